//go:build !cuda

package hostinfo

func CUDADevices() (int, []GPU, error) {
	return 0, nil, ErrCUDAUnavailable
}

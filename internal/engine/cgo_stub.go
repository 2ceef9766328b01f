//go:build !cgo

package engine

import "errors"

func loadCgo(string, DeviceConfig, RuntimeConfig) (Model, error) {
	return nil, errors.New("backend " + BackendCgo + " is unavailable: binary built without cgo")
}

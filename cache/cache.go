// Package cache persists the stream endpoints discovered on remote devices.
package cache

import (
	"io/ioutil"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
	"github.com/rigado/a2dp/avdtp"
)

// RemoteEndpoint is what DISCOVER and GET_ALL_CAPABILITIES returned for one
// endpoint of a peer.
type RemoteEndpoint struct {
	Info         avdtp.EndpointInfo `json:"info"`
	Capabilities avdtp.Capabilities `json:"capabilities"`
}

// EndpointCache stores remote endpoints per device address.
type EndpointCache interface {
	Store(mac a2dp.Addr, eps []RemoteEndpoint, replace bool) error
	Load(mac a2dp.Addr) ([]RemoteEndpoint, error)
	Clear() error
}

type endpointCache struct {
	filename string
	lock     sync.RWMutex
}

func New(filename string) EndpointCache {
	ec := endpointCache{
		filename: filename,
	}

	return &ec
}

func (ec *endpointCache) Store(mac a2dp.Addr, eps []RemoteEndpoint, replace bool) error {
	ec.lock.Lock()
	defer ec.lock.Unlock()

	cache, err := ec.loadExisting()
	if err != nil {
		return err
	}

	_, ok := cache[mac.String()]
	if ok && !replace {
		return errors.Wrapf(a2dp.ErrAlreadyConnected, "cache already contains endpoints for %s", mac.String())
	}

	cache[mac.String()] = eps

	return ec.storeCache(cache)
}

func (ec *endpointCache) Load(mac a2dp.Addr) ([]RemoteEndpoint, error) {
	ec.lock.RLock()
	defer ec.lock.RUnlock()

	cache, err := ec.loadExisting()
	if err != nil {
		return nil, err
	}

	eps, ok := cache[mac.String()]
	if !ok {
		return nil, errors.Wrapf(a2dp.ErrUnavailable, "endpoints for %s not found in cache", mac.String())
	}

	return eps, nil
}

func (ec *endpointCache) Clear() error {
	ec.lock.Lock()
	defer ec.lock.Unlock()

	err := os.Remove(ec.filename)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

func (ec *endpointCache) loadExisting() (map[string][]RemoteEndpoint, error) {
	_, err := os.Stat(ec.filename)
	if os.IsNotExist(err) {
		return map[string][]RemoteEndpoint{}, nil
	}

	in, err := ioutil.ReadFile(ec.filename)
	if err != nil {
		return nil, err
	}

	var cache map[string][]RemoteEndpoint
	err = jsoniter.Unmarshal(in, &cache)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", ec.filename)
	}
	if cache == nil {
		cache = map[string][]RemoteEndpoint{}
	}

	return cache, nil
}

func (ec *endpointCache) storeCache(cache map[string][]RemoteEndpoint) error {
	out, err := jsoniter.Marshal(cache)
	if err != nil {
		return err
	}

	return ioutil.WriteFile(ec.filename, out, 0644)
}

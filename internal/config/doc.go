// Package config loads the relay daemon configuration from a JSON file
// and fills in defaults for omitted sections: listen address, storage and
// queue drivers, tracker polling, and path resolution relative to the
// config file location.
package config

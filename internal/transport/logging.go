// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"

	applog "doa/internal/log"
)

// LoggingTransport implements the Transport interface by logging data at
// debug level.
type LoggingTransport struct {
	log *applog.Logger
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	lt := &LoggingTransport{log: applog.Named("transport")}
	lt.log.Infof("using LoggingTransport")
	return lt
}

// Send logs the JSON form of data, or its Go form when it does not marshal.
func (lt *LoggingTransport) Send(data any) error {
	if applog.GetLevel() > applog.LevelDebug {
		return nil
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		lt.log.Debugf("received (%T): %+v (JSON marshal error: %v)", data, data, err)
		return nil
	}
	lt.log.Debugf("received (%T): %s", data, jsonData)
	return nil
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	lt.log.Debugf("close called")
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)

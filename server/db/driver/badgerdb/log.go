// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package badgerdb

import (
	"github.com/dgraph-io/badger"

	"vendue.org/vendue/mkt"
)

// badgerLoggerWrapper wraps mkt.Logger and translates Warnf to Warningf to
// satisfy badger.Logger. It also lowers the log level of Infof to Debugf and
// Debugf to Tracef.
type badgerLoggerWrapper struct {
	mkt.Logger
}

var _ badger.Logger = (*badgerLoggerWrapper)(nil)

// Debugf -> mkt.Logger.Tracef
func (log *badgerLoggerWrapper) Debugf(s string, a ...interface{}) {
	log.Tracef(s, a...)
}

// Infof -> mkt.Logger.Debugf
func (log *badgerLoggerWrapper) Infof(s string, a ...interface{}) {
	log.Debugf(s, a...)
}

// Warningf -> mkt.Logger.Warnf
func (log *badgerLoggerWrapper) Warningf(s string, a ...interface{}) {
	log.Warnf(s, a...)
}

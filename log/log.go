// Package log provides the subsystem logger registry shared by every
// package in this module, following the btclog subsystem-tag
// convention used throughout the lnd/btcd/taproot-assets family.
package log

import "github.com/btcsuite/btclog"

// Subsystem tags, one per package that logs.
const (
	TagDescriptor = "CHDS"
	TagStore      = "STOR"
	TagUnblind    = "UBLD"
	TagChain      = "CHAN"
	TagScan       = "SCAN"
	TagBuilder    = "BULD"
	TagLiquidex   = "LQDX"
	TagPersist    = "PRST"
	TagSigner     = "SIGN"
	TagWollet     = "WLET"
	TagRPC        = "WRPC"
)

var backend = btclog.NewBackend(nil)

// subsystems holds every registered logger, keyed by tag, so that a
// host application can set all their levels at once via SetLevel.
var subsystems = make(map[string]btclog.Logger)

// NewSubLogger returns the Logger for tag, creating it (disabled by
// default) the first time it is requested.
func NewSubLogger(tag string) btclog.Logger {
	if l, ok := subsystems[tag]; ok {
		return l
	}
	l := backend.Logger(tag)
	l.SetLevel(btclog.LevelOff)
	subsystems[tag] = l
	return l
}

// SetLevel sets the log level for every registered subsystem.
func SetLevel(level btclog.Level) {
	for _, l := range subsystems {
		l.SetLevel(level)
	}
}

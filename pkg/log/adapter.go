package log

import "github.com/sirupsen/logrus"

// BadgerLogrusAdapter satisfies badger.Logger on top of a logrus entry.
// Badger is chatty at info level, so its info lines are demoted to debug.
type BadgerLogrusAdapter struct {
	entry *logrus.Entry
}

// NewBadgerLogrusAdapter wraps entry, tagging every line with the database name.
func NewBadgerLogrusAdapter(entry *logrus.Entry, dbName string) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{entry: entry.WithFields(logrus.Fields{"component": "badgerdb", "db": dbName})}
}

func (l *BadgerLogrusAdapter) Errorf(f string, v ...interface{})   { l.entry.Errorf(f, v...) }
func (l *BadgerLogrusAdapter) Warningf(f string, v ...interface{}) { l.entry.Warnf(f, v...) }
func (l *BadgerLogrusAdapter) Infof(f string, v ...interface{})    { l.entry.Debugf(f, v...) }
func (l *BadgerLogrusAdapter) Debugf(f string, v ...interface{})   { l.entry.Tracef(f, v...) }

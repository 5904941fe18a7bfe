package pubsub

import "context"

// DataSetWriter is owned by a WriterGroup, symmetric to DataSetReader.
type DataSetWriter struct {
	identifier Identifier
	config     DataSetWriterConfig
	state      State
	cause      Cause
	configurationFrozen bool

	stateCallback StateChangeCallback

	parent  *WriterGroup
	manager *Manager
}

func (w *DataSetWriter) id() Identifier               { return w.identifier }
func (w *DataSetWriter) kind() EntityKind              { return KindDataSetWriter }
func (w *DataSetWriter) rawState() State               { return w.state }
func (w *DataSetWriter) setRawState(s State)           { w.state = s }
func (w *DataSetWriter) callback() StateChangeCallback { return w.stateCallback }

func (w *DataSetWriter) acquire(ctx context.Context) error { return nil }
func (w *DataSetWriter) release(ctx context.Context)       {}

func (w *DataSetWriter) children() []entityTransition { return nil }

package pubsub

import "context"

// DataSetReader is owned by a ReaderGroup. It carries no
// resources of its own to acquire/release — its state simply tracks and is
// propagated from its group — but it does own the RT offset table and the
// resolved external-value pointers a hard freeze caches.
type DataSetReader struct {
	identifier Identifier
	config     DataSetReaderConfig
	state      State
	cause      Cause
	configurationFrozen bool

	// bufferedMessage is the pre-decoded offset table built on first
	// successful dispatch while hard-frozen; nil otherwise.
	bufferedMessage *offsetTable

	stateCallback StateChangeCallback

	parent  *ReaderGroup
	manager *Manager
}

func (r *DataSetReader) id() Identifier               { return r.identifier }
func (r *DataSetReader) kind() EntityKind              { return KindDataSetReader }
func (r *DataSetReader) rawState() State               { return r.state }
func (r *DataSetReader) setRawState(s State)           { r.state = s }
func (r *DataSetReader) callback() StateChangeCallback { return r.stateCallback }

func (r *DataSetReader) acquire(ctx context.Context) error { return nil }

func (r *DataSetReader) release(ctx context.Context) {
	r.bufferedMessage = nil
	for i := range r.config.Targets {
		r.config.Targets[i].externalValue = nil
	}
}

func (r *DataSetReader) children() []entityTransition { return nil }

// matchesHeader reports whether nm's (PublisherID, WriterGroupID, DataSetWriterID)
// triple identifies this reader.
func (r *DataSetReader) matchesHeader(nm *NetworkMessage, group *ReaderGroup, dsm *DataSetMessage) bool {
	if !r.config.PublisherID.Equal(nm.PublisherID) {
		return false
	}
	if r.config.WriterGroupID != nm.WriterGroupID {
		return false
	}
	return r.config.DataSetWriterID == dsm.DataSetWriterID
}

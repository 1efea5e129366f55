// Package mapio implements the streaming serialization codec for the map
// builder: a compressed stream of typed records with trajectory-id
// remapping on load.
package mapio

import (
	"encoding/gob"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/cartograph-go/cartograph/mapping"
	"github.com/cartograph-go/cartograph/sensor"
)

// IMUDataRecord is one streamed raw IMU record.
type IMUDataRecord struct {
	TrajectoryID int
	Data         sensor.IMUData
}

// OdometryDataRecord is one streamed raw odometry record.
type OdometryDataRecord struct {
	TrajectoryID int
	Data         sensor.OdometryData
}

// FixedFramePoseDataRecord is one streamed raw fixed-frame pose record.
type FixedFramePoseDataRecord struct {
	TrajectoryID int
	Data         sensor.FixedFramePoseData
}

// LandmarkDataRecord is one streamed raw landmark observation record.
type LandmarkDataRecord struct {
	TrajectoryID int
	Data         sensor.LandmarkData
}

// SerializedData is the tagged union streamed to and from storage. Exactly
// one field is non-nil per record; a record with no recognized field set is
// skipped with a warning, preserving forward compatibility.
type SerializedData struct {
	PoseGraph                   *mapping.PoseGraphSummary
	AllTrajectoryBuilderOptions *mapping.AllTrajectoryBuilderOptions
	Submap                      *mapping.SubmapRecord
	Node                        *mapping.NodeRecord
	TrajectoryData              *mapping.TrajectoryDataRecord
	IMU                         *IMUDataRecord
	Odometry                    *OdometryDataRecord
	FixedFramePose              *FixedFramePoseDataRecord
	Landmark                    *LandmarkDataRecord
}

// Writer encodes records onto a compressed stream.
type Writer struct {
	gz  *gzip.Writer
	enc *gob.Encoder
}

// NewWriter wraps w. Close must be called for the stream to be complete.
func NewWriter(w io.Writer) *Writer {
	gz := gzip.NewWriter(w)
	return &Writer{gz: gz, enc: gob.NewEncoder(gz)}
}

// WriteRecord appends one record.
func (w *Writer) WriteRecord(rec *SerializedData) error {
	if err := w.enc.Encode(rec); err != nil {
		return errors.Wrap(err, "encoding serialized record")
	}
	return nil
}

// Close finishes the compressed stream.
func (w *Writer) Close() error {
	return multierr.Combine(w.gz.Flush(), w.gz.Close())
}

// Reader decodes records from a compressed stream. ReadRecord returns
// io.EOF only at a cleanly terminated end of stream; a truncated stream
// surfaces as a corruption error instead.
type Reader struct {
	gz  *gzip.Reader
	dec *gob.Decoder
}

// NewReader wraps r.
func NewReader(r io.Reader) (*Reader, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "opening serialized state stream")
	}
	return &Reader{gz: gz, dec: gob.NewDecoder(gz)}, nil
}

// ReadRecord decodes the next record.
func (r *Reader) ReadRecord() (*SerializedData, error) {
	// gob merges into existing fields, so every decode needs a fresh value.
	var rec SerializedData
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "serialized state stream corrupt or truncated")
	}
	return &rec, nil
}

// Close releases the decompressor.
func (r *Reader) Close() error {
	return r.gz.Close()
}

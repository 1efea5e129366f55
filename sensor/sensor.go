// Package sensor defines the timed sensor records routed through the
// collator into trajectory builders and the pose graph.
package sensor

import (
	"time"

	"github.com/golang/geo/r3"

	"github.com/cartograph-go/cartograph/transform"
)

// Data is one timestamped record tagged with the sensor that produced it.
type Data interface {
	SensorID() string
	Time() time.Time
}

// IMUData holds one inertial measurement.
type IMUData struct {
	Sensor             string
	Stamp              time.Time
	LinearAcceleration r3.Vector
	AngularVelocity    r3.Vector
}

// SensorID returns the producing sensor.
func (d IMUData) SensorID() string { return d.Sensor }

// Time returns the measurement time.
func (d IMUData) Time() time.Time { return d.Stamp }

// OdometryData holds one odometry pose sample in the tracking frame.
type OdometryData struct {
	Sensor string
	Stamp  time.Time
	Pose   transform.Rigid
}

// SensorID returns the producing sensor.
func (d OdometryData) SensorID() string { return d.Sensor }

// Time returns the measurement time.
func (d OdometryData) Time() time.Time { return d.Stamp }

// FixedFramePoseData holds one pose observed in a fixed external frame,
// typically GPS.
type FixedFramePoseData struct {
	Sensor string
	Stamp  time.Time
	Pose   transform.Rigid
}

// SensorID returns the producing sensor.
func (d FixedFramePoseData) SensorID() string { return d.Sensor }

// Time returns the measurement time.
func (d FixedFramePoseData) Time() time.Time { return d.Stamp }

// LandmarkObservation is one sighting of a uniquely identified landmark
// relative to the tracking frame.
type LandmarkObservation struct {
	ID                string
	RelativePose      transform.Rigid
	TranslationWeight float64
	RotationWeight    float64
}

// LandmarkData bundles the landmark observations made at one time.
type LandmarkData struct {
	Sensor       string
	Stamp        time.Time
	Observations []LandmarkObservation
}

// SensorID returns the producing sensor.
func (d LandmarkData) SensorID() string { return d.Sensor }

// Time returns the observation time.
func (d LandmarkData) Time() time.Time { return d.Stamp }

// TimedRangeData holds one range scan with its origin in the sensor frame.
type TimedRangeData struct {
	Sensor  string
	Stamp   time.Time
	Origin  r3.Vector
	Returns []r3.Vector
}

// SensorID returns the producing sensor.
func (d TimedRangeData) SensorID() string { return d.Sensor }

// Time returns the scan time.
func (d TimedRangeData) Time() time.Time { return d.Stamp }

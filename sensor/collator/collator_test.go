package collator

import (
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/cartograph-go/cartograph/sensor"
)

func stamp(millis int) time.Time {
	return time.Unix(0, int64(millis)*int64(time.Millisecond))
}

func imuAt(sensorID string, millis int) sensor.IMUData {
	return sensor.IMUData{Sensor: sensorID, Stamp: stamp(millis)}
}

type dispatched struct {
	trajectoryID int
	sensorID     string
	millis       int
}

func recorder(trajectoryID int, out *[]dispatched) Callback {
	return func(sensorID string, data sensor.Data) {
		*out = append(*out, dispatched{trajectoryID, sensorID, int(data.Time().UnixNano() / int64(time.Millisecond))})
	}
}

func TestCollatorOrdersAcrossSensors(t *testing.T) {
	logger := golog.NewTestLogger(t)
	c := NewCollator(logger)
	var got []dispatched
	c.AddTrajectory(0, map[string]bool{"imu": true, "odom": true}, recorder(0, &got))

	test.That(t, c.AddSensorData(0, imuAt("imu", 30)), test.ShouldBeNil)
	// odom queue empty, nothing may dispatch yet
	test.That(t, got, test.ShouldHaveLength, 0)
	test.That(t, c.AddSensorData(0, sensor.OdometryData{Sensor: "odom", Stamp: stamp(10)}), test.ShouldBeNil)
	// odom@10 is dispatchable; imu@30 now blocks on empty odom
	test.That(t, got, test.ShouldHaveLength, 1)
	test.That(t, got[0], test.ShouldResemble, dispatched{0, "odom", 10})

	test.That(t, c.AddSensorData(0, sensor.OdometryData{Sensor: "odom", Stamp: stamp(40)}), test.ShouldBeNil)
	test.That(t, got, test.ShouldHaveLength, 2)
	test.That(t, got[1], test.ShouldResemble, dispatched{0, "imu", 30})

	test.That(t, c.FinishTrajectory(0), test.ShouldBeNil)
	test.That(t, got, test.ShouldHaveLength, 3)
	test.That(t, got[2], test.ShouldResemble, dispatched{0, "odom", 40})
}

func TestCollatorFinishedTrajectoryRejectsData(t *testing.T) {
	logger := golog.NewTestLogger(t)
	for _, c := range []Collator{NewCollator(logger), NewTrajectoryCollator(logger)} {
		var got []dispatched
		c.AddTrajectory(0, map[string]bool{"imu": true}, recorder(0, &got))
		test.That(t, c.FinishTrajectory(0), test.ShouldBeNil)
		err := c.AddSensorData(0, imuAt("imu", 1))
		test.That(t, err, test.ShouldNotBeNil)
		err = c.AddSensorData(7, imuAt("imu", 1))
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestGlobalCollatorInterleavesTrajectories(t *testing.T) {
	logger := golog.NewTestLogger(t)
	c := NewCollator(logger)
	var got []dispatched
	c.AddTrajectory(0, map[string]bool{"imu": true}, recorder(0, &got))
	c.AddTrajectory(1, map[string]bool{"imu": true}, recorder(1, &got))

	test.That(t, c.AddSensorData(0, imuAt("imu", 20)), test.ShouldBeNil)
	// trajectory 1's queue is empty, so the global strategy holds data back.
	test.That(t, got, test.ShouldHaveLength, 0)
	test.That(t, c.AddSensorData(1, imuAt("imu", 10)), test.ShouldBeNil)
	test.That(t, got, test.ShouldHaveLength, 1)
	test.That(t, got[0].trajectoryID, test.ShouldEqual, 1)

	test.That(t, c.FinishTrajectory(1), test.ShouldBeNil)
	test.That(t, got, test.ShouldHaveLength, 2)
	test.That(t, got[1], test.ShouldResemble, dispatched{0, "imu", 20})
}

func TestTrajectoryCollatorIsIndependentPerTrajectory(t *testing.T) {
	logger := golog.NewTestLogger(t)
	c := NewTrajectoryCollator(logger)
	var got []dispatched
	c.AddTrajectory(0, map[string]bool{"imu": true}, recorder(0, &got))
	c.AddTrajectory(1, map[string]bool{"imu": true}, recorder(1, &got))

	// trajectory 1 being empty does not hold trajectory 0 back.
	test.That(t, c.AddSensorData(0, imuAt("imu", 20)), test.ShouldBeNil)
	test.That(t, got, test.ShouldHaveLength, 1)
	test.That(t, got[0].trajectoryID, test.ShouldEqual, 0)
}

func TestCollatorDropsOutOfOrderData(t *testing.T) {
	logger := golog.NewTestLogger(t)
	c := NewTrajectoryCollator(logger)
	var got []dispatched
	c.AddTrajectory(0, map[string]bool{"imu": true}, recorder(0, &got))
	test.That(t, c.AddSensorData(0, imuAt("imu", 20)), test.ShouldBeNil)
	test.That(t, c.AddSensorData(0, imuAt("imu", 5)), test.ShouldBeNil)
	test.That(t, c.FinishTrajectory(0), test.ShouldBeNil)
	test.That(t, got, test.ShouldHaveLength, 1)
	test.That(t, got[0].millis, test.ShouldEqual, 20)
}

func TestCollatorFlush(t *testing.T) {
	logger := golog.NewTestLogger(t)
	c := NewCollator(logger)
	var got []dispatched
	c.AddTrajectory(0, map[string]bool{"imu": true, "odom": true}, recorder(0, &got))
	test.That(t, c.AddSensorData(0, imuAt("imu", 5)), test.ShouldBeNil)
	test.That(t, c.AddSensorData(0, imuAt("imu", 6)), test.ShouldBeNil)
	test.That(t, got, test.ShouldHaveLength, 0)
	c.Flush()
	test.That(t, got, test.ShouldHaveLength, 2)
}

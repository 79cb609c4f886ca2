// Package telemetry defines the fixed 14-channel sample record and the
// contract for the simulator-side telemetry source.
package telemetry

// Sample is one tick's snapshot of the fixed 14-channel set. Samples are
// immutable once created; ownership transfers from the source to the lap
// buffer on arrival.
//
// Units are fixed: time in seconds (session-relative), distance in meters,
// distance_pct in [0,1), speed in m/s, throttle/brake in [0,1], steering in
// radians, accelerations in G.
type Sample struct {
	Lap                int     `json:"lap"`
	Time               float64 `json:"time"`
	Distance           float64 `json:"distance"`
	DistancePct        float64 `json:"distance_pct"`
	Speed              float64 `json:"speed"`
	Throttle           float64 `json:"throttle"`
	Brake              float64 `json:"brake"`
	Steering           float64 `json:"steering"`
	Gear               int     `json:"gear"`
	RPM                float64 `json:"rpm"`
	LatAccel           float64 `json:"lat_accel"`
	LongAccel          float64 `json:"long_accel"`
	YawRate            float64 `json:"yaw_rate"`
	SteeringWheelAngle float64 `json:"steering_wheel_angle"`
}

// Channels lists the 14 channel column names in canonical export order.
var Channels = []string{
	"lap",
	"time",
	"distance",
	"distance_pct",
	"speed",
	"throttle",
	"brake",
	"steering",
	"gear",
	"rpm",
	"lat_accel",
	"long_accel",
	"yaw_rate",
	"steering_wheel_angle",
}

// Channel returns the named channel value as a float64. Integer channels
// (lap, gear) are widened. Unknown names return 0.
func (s Sample) Channel(name string) float64 {
	switch name {
	case "lap":
		return float64(s.Lap)
	case "time":
		return s.Time
	case "distance":
		return s.Distance
	case "distance_pct":
		return s.DistancePct
	case "speed":
		return s.Speed
	case "throttle":
		return s.Throttle
	case "brake":
		return s.Brake
	case "steering":
		return s.Steering
	case "gear":
		return float64(s.Gear)
	case "rpm":
		return s.RPM
	case "lat_accel":
		return s.LatAccel
	case "long_accel":
		return s.LongAccel
	case "yaw_rate":
		return s.YawRate
	case "steering_wheel_angle":
		return s.SteeringWheelAngle
	default:
		return 0
	}
}

// Package kinematics turns a body-frame motion request into per-wheel speeds
// for a four-wheel mecanum base.
package kinematics

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Wheel order used by Mix results.
const (
	LeftFront = iota
	LeftRear
	RightFront
	RightRear
)

// MaxSpeed is the largest wheel command the motor driver accepts.
const MaxSpeed = 100.0

// mixing maps [vx (forward), vy (right), w (clockwise)] to the four wheels.
var mixing = mat.NewDense(4, 3, []float64{
	1, 1, 1, // left front
	1, -1, 1, // left rear
	1, -1, -1, // right front
	1, 1, -1, // right rear
})

// Mix returns wheel speeds for travelling toward angleDeg (0 is straight
// ahead, 90 is right) at speed while turning at rotation, all in -100..100
// units. When any wheel would exceed MaxSpeed the whole set is scaled down
// so the direction of travel is preserved.
func Mix(angleDeg, speed, rotation float64) [4]float64 {
	rad := angleDeg * math.Pi / 180
	body := mat.NewVecDense(3, []float64{
		speed * math.Cos(rad),
		speed * math.Sin(rad),
		rotation,
	})

	var wheels mat.VecDense
	wheels.MulVec(mixing, body)

	peak := mat.Norm(&wheels, math.Inf(1))
	if peak > MaxSpeed {
		wheels.ScaleVec(MaxSpeed/peak, &wheels)
	}

	var out [4]float64
	for i := range out {
		v := wheels.AtVec(i)
		if math.Abs(v) < 1e-9 {
			v = 0
		}
		out[i] = v
	}
	return out
}

package robothand

// GripType names one of the grasp taxonomies the hand can form.
type GripType int

const (
	PowerGrasp GripType = iota
	PrecisionGrip
	PinchGrip
	LateralGrip
	TripodGrip
)

func (g GripType) String() string {
	switch g {
	case PowerGrasp:
		return "power_grasp"
	case PrecisionGrip:
		return "precision_grip"
	case PinchGrip:
		return "pinch_grip"
	case LateralGrip:
		return "lateral_grip"
	case TripodGrip:
		return "tripod_grip"
	default:
		return "unknown"
	}
}

// GripPattern is a complete preshape: per-finger joint angle triples in
// proximal-to-distal order, an optional wrist orientation, and the distance
// at which the approach phase stops.
type GripPattern struct {
	Type               GripType
	FingerAngles       map[FingerID][]float64
	WristOrientation   *Orientation
	ApproachDistanceCM float64
}

// Angles returns a copy of the joint angles for one finger, nil when the
// pattern does not pose that finger.
func (p GripPattern) Angles(finger FingerID) []float64 {
	angles, ok := p.FingerAngles[finger]
	if !ok {
		return nil
	}
	return append([]float64(nil), angles...)
}

// PowerGraspPattern wraps the whole hand around large objects.
func PowerGraspPattern() GripPattern {
	return GripPattern{
		Type: PowerGrasp,
		FingerAngles: map[FingerID][]float64{
			Thumb:  {60, 60, 60},
			Index:  {80, 80, 80},
			Middle: {80, 80, 80},
			Ring:   {80, 80, 80},
			Pinky:  {80, 80, 80},
		},
		WristOrientation:   &Orientation{},
		ApproachDistanceCM: 10.0,
	}
}

// PrecisionGripPattern opposes thumb, index and middle for flat objects;
// ring and pinky stay out of the way.
func PrecisionGripPattern() GripPattern {
	return GripPattern{
		Type: PrecisionGrip,
		FingerAngles: map[FingerID][]float64{
			Thumb:  {45, 45, 30},
			Index:  {60, 50, 40},
			Middle: {60, 50, 40},
			Ring:   {10, 10, 10},
			Pinky:  {10, 10, 10},
		},
		WristOrientation:   &Orientation{Pitch: 5},
		ApproachDistanceCM: 8.0,
	}
}

// PinchGripPattern holds thin objects between thumb and index.
func PinchGripPattern() GripPattern {
	return GripPattern{
		Type: PinchGrip,
		FingerAngles: map[FingerID][]float64{
			Thumb:  {50, 40, 30},
			Index:  {70, 60, 50},
			Middle: {20, 20, 20},
			Ring:   {10, 10, 10},
			Pinky:  {10, 10, 10},
		},
		WristOrientation:   &Orientation{},
		ApproachDistanceCM: 6.0,
	}
}

// LateralGripPattern presses the thumb against the side of a curled index,
// the key-holding grip.
func LateralGripPattern() GripPattern {
	return GripPattern{
		Type: LateralGrip,
		FingerAngles: map[FingerID][]float64{
			Thumb:  {80, 70, 60},
			Index:  {90, 90, 90},
			Middle: {20, 20, 20},
			Ring:   {10, 10, 10},
			Pinky:  {10, 10, 10},
		},
		WristOrientation:   &Orientation{Roll: 10},
		ApproachDistanceCM: 7.0,
	}
}

// TripodGripPattern uses thumb, index and middle, the pen-holding grip.
func TripodGripPattern() GripPattern {
	return GripPattern{
		Type: TripodGrip,
		FingerAngles: map[FingerID][]float64{
			Thumb:  {45, 40, 35},
			Index:  {65, 55, 45},
			Middle: {65, 55, 45},
			Ring:   {15, 15, 15},
			Pinky:  {10, 10, 10},
		},
		WristOrientation:   &Orientation{Pitch: 3},
		ApproachDistanceCM: 7.0,
	}
}

// GripPatternFor picks a preshape for a canonical object type. Unknown
// types get the power grasp, which holds most things acceptably.
func GripPatternFor(objectType string) GripPattern {
	switch objectType {
	case "cup", "mug", "glass":
		return PowerGraspPattern()
	case "bottle":
		return PowerGraspPattern()
	case "phone", "book":
		return PrecisionGripPattern()
	case "pen", "pencil":
		return PinchGripPattern()
	case "card":
		return LateralGripPattern()
	default:
		return PowerGraspPattern()
	}
}

// ObjectGripTypes lists the canonical object types with a dedicated grip.
func ObjectGripTypes() map[string]GripType {
	return map[string]GripType{
		"cup":          PowerGrasp,
		"mug":          PowerGrasp,
		"bottle":       PowerGrasp,
		"phone":        PrecisionGrip,
		"book":         PrecisionGrip,
		"pen":          PinchGrip,
		"pencil":       PinchGrip,
		"card":         LateralGrip,
		"small_object": PowerGrasp,
	}
}

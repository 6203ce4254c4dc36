package robothand

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"google.golang.org/genai"
)

// MovementAction names one planner-issued motion primitive. Values match the
// planning wire format.
type MovementAction string

const (
	ActionMoveToPosition MovementAction = "MoveToPosition"
	ActionOpenHand       MovementAction = "OpenHand"
	ActionCloseHand      MovementAction = "CloseHand"
	ActionGrasp          MovementAction = "Grasp"
	ActionRelease        MovementAction = "Release"
	ActionRotateWrist    MovementAction = "RotateWrist"
	ActionApproach       MovementAction = "Approach"
	ActionRetreat        MovementAction = "Retreat"
	ActionWait           MovementAction = "Wait"
)

func (a MovementAction) Valid() bool {
	switch a {
	case ActionMoveToPosition, ActionOpenHand, ActionCloseHand, ActionGrasp,
		ActionRelease, ActionRotateWrist, ActionApproach, ActionRetreat, ActionWait:
		return true
	}
	return false
}

// MovementParameters carries the optional numeric arguments of a command.
// Nil means the planner left the parameter unset.
type MovementParameters struct {
	TargetXCM    *float64 `json:"target_x_cm,omitempty"`
	TargetYCM    *float64 `json:"target_y_cm,omitempty"`
	TargetZCM    *float64 `json:"target_z_cm,omitempty"`
	WristPitch   *float64 `json:"wrist_pitch,omitempty"`
	WristRoll    *float64 `json:"wrist_roll,omitempty"`
	GripStrength *float64 `json:"grip_strength,omitempty"`
	DurationMS   *int64   `json:"duration_ms,omitempty"`
}

// MovementCommand is one step of a movement plan.
type MovementCommand struct {
	Action     MovementAction     `json:"action"`
	Parameters MovementParameters `json:"parameters"`
	Reasoning  string             `json:"reasoning"`
}

// SceneState is everything the planner gets to see: the chosen target, its
// depth in centimeters, the operator's hand if one was found, and the rest
// of the detections.
type SceneState struct {
	TargetObject        DetectedObject   `json:"target_object"`
	ObjectDepthCM       float64          `json:"object_depth_cm"`
	HandPose            *HandPose        `json:"hand_pose,omitempty"`
	OtherObjects        []DetectedObject `json:"other_objects"`
	CameraFOVHorizontal float64          `json:"camera_fov_horizontal"`
	CameraFOVVertical   float64          `json:"camera_fov_vertical"`
}

// Planner turns a scene into an ordered movement plan.
type Planner interface {
	GenerateMovementPlan(ctx context.Context, scene *SceneState) ([]MovementCommand, error)
}

const (
	defaultPlannerModel = "gemini-2.0-flash"
	plannerTemperature  = 0.3
	plannerMaxTokens    = 1000

	// GeminiAPIKeyEnv is consulted when no API key is configured.
	GeminiAPIKeyEnv = "GEMINI_API_KEY"
)

// GeminiPlanner asks a Gemini model for a movement plan and parses its JSON
// reply.
type GeminiPlanner struct {
	client *genai.Client
	model  string
	logger logging.Logger
}

func NewGeminiPlanner(ctx context.Context, apiKey, model string, logger logging.Logger) (*GeminiPlanner, error) {
	if apiKey == "" {
		apiKey = os.Getenv(GeminiAPIKeyEnv)
	}
	if apiKey == "" {
		return nil, &ConfigError{Field: "planner.api_key", Reason: fmt.Sprintf("not set and %s is empty", GeminiAPIKeyEnv)}
	}
	if model == "" {
		model = defaultPlannerModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, errors.Wrap(err, "creating gemini client")
	}
	return &GeminiPlanner{client: client, model: model, logger: logger}, nil
}

func (p *GeminiPlanner) GenerateMovementPlan(ctx context.Context, scene *SceneState) ([]MovementCommand, error) {
	prompt := buildPlannerPrompt(scene)

	result, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:       genai.Ptr[float32](plannerTemperature),
		MaxOutputTokens:   plannerMaxTokens,
		SystemInstruction: genai.NewContentFromText(plannerSystemPrompt, genai.RoleUser),
	})
	if err != nil {
		return nil, &CollaboratorError{Name: "planner", Err: err}
	}

	text := result.Text()
	if text == "" {
		return nil, &CollaboratorError{Name: "planner", Err: errors.New("empty model response")}
	}

	commands, err := ParseMovementPlan(text)
	if err != nil {
		return nil, err
	}
	p.logger.Debugf("planner returned %d commands", len(commands))
	return commands, nil
}

// ParseMovementPlan extracts the JSON plan from a model reply. The reply may
// wrap the JSON in prose or a code fence; everything outside the outermost
// braces is ignored.
func ParseMovementPlan(content string) ([]MovementCommand, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end < start {
		return nil, &CollaboratorError{Name: "planner", Err: errors.New("no JSON object in response")}
	}

	var envelope struct {
		Commands []MovementCommand `json:"commands"`
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &envelope); err != nil {
		return nil, &CollaboratorError{Name: "planner", Err: errors.Wrap(err, "decoding movement plan")}
	}
	if len(envelope.Commands) == 0 {
		return nil, &CollaboratorError{Name: "planner", Err: errors.New("empty movement plan")}
	}
	for i, cmd := range envelope.Commands {
		if !cmd.Action.Valid() {
			return nil, &CollaboratorError{Name: "planner", Err: errors.Errorf("command %d: unknown action %q", i, cmd.Action)}
		}
	}
	return envelope.Commands, nil
}

func buildPlannerPrompt(scene *SceneState) string {
	handInfo := "Hand position unknown - will need to estimate starting position"
	if pose := scene.HandPose; pose != nil {
		handInfo = fmt.Sprintf(
			"Hand detected at position: (%.1f, %.1f, %.1f) cm, Palm center: (%.1f, %.1f, %.1f), Open: %v, Confidence: %.2f",
			pose.WristPosition.X, pose.WristPosition.Y, pose.WristPosition.Z,
			pose.PalmCenter.X, pose.PalmCenter.Y, pose.PalmCenter.Z,
			pose.IsOpen, pose.Confidence,
		)
	}

	otherInfo := "No other objects detected in scene"
	if len(scene.OtherObjects) > 0 {
		parts := make([]string, 0, len(scene.OtherObjects))
		for _, obj := range scene.OtherObjects {
			parts = append(parts, fmt.Sprintf("%s at (%d, %d) with depth ~%.0fcm",
				obj.Label, obj.Box.X, obj.Box.Y, obj.Distance*100))
		}
		otherInfo = "Other objects in scene: " + strings.Join(parts, ", ")
	}

	return fmt.Sprintf(`SCENE ANALYSIS:

TARGET OBJECT:
- Type: %s
- Confidence: %.2f
- Position in frame: (%d, %d)
- Bounding box size: %dx%d pixels
- Estimated depth: %.1f cm

HAND STATE:
%s

ENVIRONMENT:
%s
- Camera FOV: %.1f° horizontal, %.1f° vertical

TASK: Generate a sequence of movement commands to safely grasp the target object.

Respond ONLY with valid JSON in this exact format:
{
  "commands": [
    {
      "action": "MoveToPosition" | "OpenHand" | "CloseHand" | "Grasp" | "Release" | "RotateWrist" | "Approach" | "Retreat" | "Wait",
      "parameters": {
        "target_x_cm": float | null,
        "target_y_cm": float | null,
        "target_z_cm": float | null,
        "wrist_pitch": float | null,
        "wrist_roll": float | null,
        "grip_strength": float | null,
        "duration_ms": int | null
      },
      "reasoning": "brief explanation"
    }
  ]
}

Consider:
1. Hand must approach from above or side depending on object type
2. Grasp force appropriate for object (fragile vs sturdy)
3. Avoid collisions with other objects
4. Smooth motion trajectory
5. If hand position unknown, start with safe default approach`,
		scene.TargetObject.Label,
		scene.TargetObject.Confidence,
		scene.TargetObject.Box.X, scene.TargetObject.Box.Y,
		scene.TargetObject.Box.Width, scene.TargetObject.Box.Height,
		scene.ObjectDepthCM,
		handInfo,
		otherInfo,
		scene.CameraFOVHorizontal, scene.CameraFOVVertical,
	)
}

const plannerSystemPrompt = `You are a robot movement planner for a 5-finger robotic hand.

CAPABILITIES:
- 5 articulated fingers (Thumb, Index, Middle, Ring, Pinky)
- Each finger has 3 joints with 0-90° range
- 2-axis wrist (pitch and roll)
- Servo-based position control (precise but not force-sensing)

COORDINATE SYSTEM:
- X: left (-) to right (+)
- Y: down (-) to up (+)
- Z: camera (0) to away (+)
- All measurements in centimeters

SAFETY CONSTRAINTS:
- Maximum reach: ~20cm from wrist
- Approach speed: slow for fragile objects, normal for sturdy
- Never command movements that would collide with other objects
- If uncertain, use conservative grip strength

OUTPUT FORMAT:
Return ONLY valid JSON with movement commands. Each command must have:
- action: one of the predefined action types
- parameters: relevant numerical values (use null for unused parameters)
- reasoning: 1-2 sentence explanation

Be concise and direct. Prioritize safety and success rate over speed.`

// FallbackPlanner builds a fixed grip-pattern sequence when the language
// model is unavailable or its plan cannot be used. It never fails and its
// plans always terminate.
type FallbackPlanner struct {
	geometry HandGeometry
	logger   logging.Logger
}

func NewFallbackPlanner(geometry HandGeometry, logger logging.Logger) *FallbackPlanner {
	return &FallbackPlanner{geometry: geometry, logger: logger}
}

func (p *FallbackPlanner) GenerateMovementPlan(ctx context.Context, scene *SceneState) ([]MovementCommand, error) {
	objectType := ClassifyObjectType(scene.TargetObject.Label)
	pattern := GripPatternFor(objectType)

	strength := 0.6
	if angles := pattern.Angles(Index); len(angles) > 0 {
		strength = angles[0] / 90.0
	}

	targetZ := clamp(scene.ObjectDepthCM, minGraspDistanceCM, p.geometry.MaxReach()*0.9)

	commands := []MovementCommand{
		{
			Action:    ActionApproach,
			Reasoning: fmt.Sprintf("square up to the %s with an open hand", scene.TargetObject.Label),
		},
	}
	if o := pattern.WristOrientation; o != nil {
		commands = append(commands, MovementCommand{
			Action:     ActionRotateWrist,
			Parameters: MovementParameters{WristPitch: f64Ptr(o.Pitch), WristRoll: f64Ptr(o.Roll)},
			Reasoning:  fmt.Sprintf("orient the wrist for a %s", pattern.Type),
		})
	}
	commands = append(commands,
		MovementCommand{
			Action:     ActionMoveToPosition,
			Parameters: MovementParameters{TargetXCM: f64Ptr(0), TargetYCM: f64Ptr(0), TargetZCM: f64Ptr(targetZ)},
			Reasoning:  "reach straight toward the target",
		},
		MovementCommand{
			Action:     ActionGrasp,
			Parameters: MovementParameters{GripStrength: f64Ptr(strength)},
			Reasoning:  fmt.Sprintf("close with %s strength", pattern.Type),
		},
		MovementCommand{
			Action:     ActionWait,
			Parameters: MovementParameters{DurationMS: i64Ptr(500)},
			Reasoning:  "let the grip settle",
		},
		MovementCommand{
			Action:    ActionRetreat,
			Reasoning: "back away with the object held",
		},
	)

	p.logger.Debugf("fallback plan: %d steps, %s on %q", len(commands), pattern.Type, scene.TargetObject.Label)
	return commands, nil
}

func f64Ptr(v float64) *float64 { return &v }
func i64Ptr(v int64) *int64     { return &v }

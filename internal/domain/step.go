package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	ActionResize       = "resize"
	ActionFit          = "fit"
	ActionThumbnail    = "thumbnail"
	ActionCrop         = "crop"
	ActionRotate       = "rotate"
	ActionFlip         = "flip"
	ActionGrayscale    = "grayscale"
	ActionSharpen      = "sharpen"
	ActionBlur         = "blur"
	ActionAdjust       = "adjust"
	ActionThreshold    = "threshold"
	ActionReplaceColor = "replace_color"
	ActionWatermark    = "watermark"
)

// KnownAction reports whether action names a supported transform.
func KnownAction(action string) bool {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case ActionResize, ActionFit, ActionThumbnail, ActionCrop, ActionRotate, ActionFlip,
		ActionGrayscale, ActionSharpen, ActionBlur, ActionAdjust, ActionThreshold,
		ActionReplaceColor, ActionWatermark:
		return true
	}
	return false
}

// Step describes one transform of a pipeline. Only the fields relevant to
// Action are read.
type Step struct {
	Action     string  `json:"action"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	Angle      float64 `json:"angle,omitempty"`
	Sigma      float64 `json:"sigma,omitempty"`
	Level      int     `json:"level,omitempty"`
	Horizontal bool    `json:"horizontal,omitempty"`
	Background string  `json:"background,omitempty"`

	Crop      *CropRect     `json:"crop,omitempty"`
	Adjust    *Adjustment   `json:"adjust,omitempty"`
	Replace   *ColorReplace `json:"replace,omitempty"`
	Watermark *Watermark    `json:"watermark,omitempty"`
}

// CropRect is a pixel region; (X1,Y1) inclusive, (X2,Y2) exclusive.
type CropRect struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Adjustment values are relative changes in [-1, 1], except Gamma which is
// an absolute exponent (1 = unchanged, 0 = skip).
type Adjustment struct {
	Brightness float64 `json:"brightness,omitempty"`
	Contrast   float64 `json:"contrast,omitempty"`
	Gamma      float64 `json:"gamma,omitempty"`
	Saturation float64 `json:"saturation,omitempty"`
}

type ColorReplace struct {
	Target      string  `json:"target"`
	Replacement string  `json:"replacement"`
	Tolerance   float64 `json:"tolerance"`
}

type Watermark struct {
	Text    string  `json:"text"`
	Opacity float64 `json:"opacity"`
	Gravity string  `json:"gravity"`
}

// Validate checks that the parameters required by Action are present.
func (s Step) Validate() error {
	action := strings.ToLower(strings.TrimSpace(s.Action))
	switch action {
	case "":
		return errors.New("action is required")
	case ActionResize, ActionFit, ActionThumbnail:
		if s.Width < 0 || s.Height < 0 {
			return fmt.Errorf("%s: width and height must not be negative", s.Action)
		}
		if s.Width == 0 && s.Height == 0 {
			return fmt.Errorf("%s: width or height is required", s.Action)
		}
		if action != ActionResize && (s.Width == 0 || s.Height == 0) {
			return fmt.Errorf("%s: width and height are required", s.Action)
		}
	case ActionCrop:
		if s.Crop == nil {
			return errors.New("crop: region is required")
		}
		if s.Crop.X1 >= s.Crop.X2 || s.Crop.Y1 >= s.Crop.Y2 {
			return errors.New("crop: x1 must be < x2 and y1 must be < y2")
		}
	case ActionRotate:
		if math.IsNaN(s.Angle) || math.IsInf(s.Angle, 0) {
			return errors.New("rotate: angle must be a finite number")
		}
	case ActionFlip, ActionGrayscale:
	case ActionAdjust:
		if s.Adjust == nil {
			return errors.New("adjust: at least one adjustment is required")
		}
	case ActionSharpen, ActionBlur:
		if s.Sigma <= 0 {
			return fmt.Errorf("%s: sigma must be > 0", s.Action)
		}
	case ActionThreshold:
		if s.Level < 0 || s.Level > 255 {
			return errors.New("threshold: level must be within 0-255")
		}
	case ActionReplaceColor:
		if s.Replace == nil || s.Replace.Target == "" || s.Replace.Replacement == "" {
			return errors.New("replace_color: target and replacement are required")
		}
	case ActionWatermark:
		if s.Watermark == nil || strings.TrimSpace(s.Watermark.Text) == "" {
			return errors.New("watermark: text is required")
		}
	default:
		return fmt.Errorf("unsupported action: %s", s.Action)
	}
	return nil
}

// ParseStep parses the command line shorthand "action:key=value,key=value".
//
//	resize:width=640
//	crop:x1=0,y1=0,x2=800,y2=600
//	replace_color:target=#f0f0f0,replacement=#ffffff,tolerance=0.1
//	watermark:text=Draft,opacity=0.5,gravity=south
func ParseStep(raw string) (Step, error) {
	action, params, _ := strings.Cut(strings.TrimSpace(raw), ":")
	step := Step{Action: strings.ToLower(strings.TrimSpace(action))}
	if step.Action == "" {
		return Step{}, fmt.Errorf("step %q: action is required", raw)
	}

	if strings.TrimSpace(params) != "" {
		for _, kv := range strings.Split(params, ",") {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				return Step{}, fmt.Errorf("step %q: expected key=value, got %q", raw, kv)
			}
			if err := step.set(strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(value)); err != nil {
				return Step{}, fmt.Errorf("step %q: %w", raw, err)
			}
		}
	}

	if err := step.Validate(); err != nil {
		return Step{}, fmt.Errorf("step %q: %w", raw, err)
	}
	return step, nil
}

func (s *Step) set(key, value string) error {
	var err error
	switch key {
	case "width", "w":
		s.Width, err = strconv.Atoi(value)
	case "height", "h":
		s.Height, err = strconv.Atoi(value)
	case "angle", "degrees":
		s.Angle, err = strconv.ParseFloat(value, 64)
	case "sigma", "radius":
		s.Sigma, err = strconv.ParseFloat(value, 64)
	case "level":
		s.Level, err = strconv.Atoi(value)
	case "horizontal":
		s.Horizontal, err = strconv.ParseBool(value)
	case "direction":
		switch value {
		case "h", "horizontal":
			s.Horizontal = true
		case "v", "vertical":
			s.Horizontal = false
		default:
			err = fmt.Errorf("unknown direction %q", value)
		}
	case "background", "bg":
		s.Background = value
	case "x1", "y1", "x2", "y2":
		if s.Crop == nil {
			s.Crop = &CropRect{}
		}
		var n int
		n, err = strconv.Atoi(value)
		switch key {
		case "x1":
			s.Crop.X1 = n
		case "y1":
			s.Crop.Y1 = n
		case "x2":
			s.Crop.X2 = n
		case "y2":
			s.Crop.Y2 = n
		}
	case "brightness", "contrast", "gamma", "saturation":
		if s.Adjust == nil {
			s.Adjust = &Adjustment{}
		}
		var f float64
		f, err = strconv.ParseFloat(value, 64)
		switch key {
		case "brightness":
			s.Adjust.Brightness = f
		case "contrast":
			s.Adjust.Contrast = f
		case "gamma":
			s.Adjust.Gamma = f
		case "saturation":
			s.Adjust.Saturation = f
		}
	case "target", "replacement", "tolerance":
		if s.Replace == nil {
			s.Replace = &ColorReplace{}
		}
		switch key {
		case "target":
			s.Replace.Target = value
		case "replacement":
			s.Replace.Replacement = value
		case "tolerance":
			s.Replace.Tolerance, err = strconv.ParseFloat(value, 64)
		}
	case "text", "opacity", "gravity":
		if s.Watermark == nil {
			s.Watermark = &Watermark{}
		}
		switch key {
		case "text":
			s.Watermark.Text = value
		case "opacity":
			s.Watermark.Opacity, err = strconv.ParseFloat(value, 64)
		case "gravity":
			s.Watermark.Gravity = value
		}
	default:
		return fmt.Errorf("unknown parameter %q", key)
	}
	if err != nil {
		return fmt.Errorf("parameter %s: %w", key, err)
	}
	return nil
}

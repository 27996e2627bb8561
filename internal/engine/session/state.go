package session

import (
	"fmt"

	engerrors "github.com/alxayo/go-mediadecode/internal/errors"
)

// AVSelect picks which elementary stream a MediaContext decodes.
type AVSelect string

const (
	AVSelectVideo AVSelect = "video"
	AVSelectAudio AVSelect = "audio"
)

// Option holds every field of the client-facing option set (spec §6):
// auto_hwaccel, use_pkt_duration, max_pixels, vt_pix_fmt, sw_pix_fmt,
// autorotate, export_mvs, avselect, skip, trim_duration,
// dist_time_seek_trigger, max_nb_frames, max_nb_packets, pkt_skip_mod,
// filters. Every time-valued field is stored in seconds, the same unit
// set_option accepts; MediaContext converts to canonical microseconds at
// the point it needs to.
type Option struct {
	AutoHWAccel    bool
	UsePktDuration bool
	MaxPixels      int
	VTPixFmt       string
	SWPixFmt       string
	Autorotate     bool
	ExportMVs      bool
	AVSelect       AVSelect

	SkipSeconds                float64
	TrimDurationSeconds        float64
	DistTimeSeekTriggerSeconds float64

	MaxNbFrames  int
	MaxNbPackets int
	PktSkipMod   int
	Filters      string
}

// DefaultOption returns the option set a freshly added media starts with.
func DefaultOption() Option {
	return Option{AVSelect: AVSelectVideo}
}

// usFromSeconds converts a client-facing seconds value to canonical
// microseconds (spec §6: "all time-valued client inputs are seconds (IEEE
// double); internally converted to canonical microseconds").
func usFromSeconds(seconds float64) int64 {
	return int64(seconds * 1_000_000)
}

// set applies one set_option(media, name, value) call. Recognized names
// match the §6 option set exactly; an unrecognized name or a value of the
// wrong type is reported rather than silently ignored.
func (o *Option) set(name string, value any) error {
	switch name {
	case "auto_hwaccel":
		b, ok := value.(bool)
		if !ok {
			return optionTypeError(name, "bool", value)
		}
		o.AutoHWAccel = b
	case "use_pkt_duration":
		b, ok := value.(bool)
		if !ok {
			return optionTypeError(name, "bool", value)
		}
		o.UsePktDuration = b
	case "max_pixels":
		i, ok := asInt(value)
		if !ok {
			return optionTypeError(name, "int", value)
		}
		o.MaxPixels = i
	case "vt_pix_fmt":
		s, ok := value.(string)
		if !ok {
			return optionTypeError(name, "string", value)
		}
		o.VTPixFmt = s
	case "sw_pix_fmt":
		s, ok := value.(string)
		if !ok {
			return optionTypeError(name, "string", value)
		}
		o.SWPixFmt = s
	case "autorotate":
		b, ok := value.(bool)
		if !ok {
			return optionTypeError(name, "bool", value)
		}
		o.Autorotate = b
	case "export_mvs":
		b, ok := value.(bool)
		if !ok {
			return optionTypeError(name, "bool", value)
		}
		o.ExportMVs = b
	case "avselect":
		s, ok := value.(string)
		if !ok {
			return optionTypeError(name, "string", value)
		}
		switch AVSelect(s) {
		case AVSelectAudio, AVSelectVideo:
			o.AVSelect = AVSelect(s)
		default:
			return optionValueError(name, s)
		}
	case "skip":
		f, ok := asFloat(value)
		if !ok {
			return optionTypeError(name, "float64", value)
		}
		o.SkipSeconds = f
	case "trim_duration":
		f, ok := asFloat(value)
		if !ok {
			return optionTypeError(name, "float64", value)
		}
		o.TrimDurationSeconds = f
	case "dist_time_seek_trigger":
		f, ok := asFloat(value)
		if !ok {
			return optionTypeError(name, "float64", value)
		}
		o.DistTimeSeekTriggerSeconds = f
	case "max_nb_frames":
		i, ok := asInt(value)
		if !ok {
			return optionTypeError(name, "int", value)
		}
		o.MaxNbFrames = i
	case "max_nb_packets":
		i, ok := asInt(value)
		if !ok {
			return optionTypeError(name, "int", value)
		}
		o.MaxNbPackets = i
	case "pkt_skip_mod":
		i, ok := asInt(value)
		if !ok {
			return optionTypeError(name, "int", value)
		}
		o.PktSkipMod = i
	case "filters":
		s, ok := value.(string)
		if !ok {
			return optionTypeError(name, "string", value)
		}
		o.Filters = s
	default:
		return unknownOptionError(name)
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func optionTypeError(name, wantType string, got any) error {
	return engerrors.NewUnsupportedError("set_option", fmt.Errorf("option %q expects a %s, got %T", name, wantType, got))
}

func optionValueError(name string, got any) error {
	return engerrors.NewUnsupportedError("set_option", fmt.Errorf("option %q does not accept value %v", name, got))
}

func unknownOptionError(name string) error {
	return engerrors.NewUnsupportedError("set_option", fmt.Errorf("unrecognized option %q", name))
}

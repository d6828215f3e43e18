package checkpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"
	"sort"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrMissingKey is returned when a state snapshot lacks a required field
var ErrMissingKey = errors.New("state is missing required key")

// CheckpointFormat defines the serialization format for state snapshots
type CheckpointFormat int

const (
	FormatProto CheckpointFormat = iota
	FormatJSON
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatProto:
		return "Proto"
	case FormatJSON:
		return "JSON"
	default:
		return "Unknown"
	}
}

// ParseFormat maps a configuration string onto a CheckpointFormat
func ParseFormat(s string) (CheckpointFormat, error) {
	switch s {
	case "", "proto", "binary":
		return FormatProto, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatProto, fmt.Errorf("unsupported checkpoint format: %q", s)
	}
}

// State is a snapshot of training-loop data handed to the tracker once per epoch.
// Values must be numbers, strings, bools, nil, slices, arrays or string-keyed maps
// of those in order to be serialized.
type State map[string]interface{}

// Clone returns a shallow copy of the state
func (s State) Clone() State {
	out := make(State, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Keys returns the state keys in sorted order
func (s State) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Epoch returns the integral "epoch" field
func (s State) Epoch() (int, error) {
	v, ok := s["epoch"]
	if !ok {
		return 0, fmt.Errorf("%w: epoch", ErrMissingKey)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) {
			return 0, fmt.Errorf("epoch is not integral: %v", f)
		}
		return int(f), nil
	default:
		return 0, fmt.Errorf("epoch has unsupported type %T", v)
	}
}

// Float returns a numeric field as float64
func (s State) Float(key string) (float64, error) {
	v, ok := s[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingKey, key)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	default:
		return 0, fmt.Errorf("%s has non-numeric type %T", key, v)
	}
}

// StateSaver handles saving state snapshots in various formats
type StateSaver struct {
	format CheckpointFormat
}

// NewStateSaver creates a new state saver for the specified format
func NewStateSaver(format CheckpointFormat) *StateSaver {
	return &StateSaver{
		format: format,
	}
}

// Format reports the format the saver writes
func (ss *StateSaver) Format() CheckpointFormat {
	return ss.format
}

// SaveState serializes a state snapshot to path, replacing any existing file
func (ss *StateSaver) SaveState(state State, path string) error {
	normalized, err := normalizeState(state)
	if err != nil {
		return err
	}

	switch ss.format {
	case FormatProto:
		return ss.saveProto(normalized, path)
	case FormatJSON:
		return ss.saveJSON(normalized, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", ss.format.String())
	}
}

// LoadState reads a state snapshot written by SaveState. Numbers come back as float64.
func (ss *StateSaver) LoadState(path string) (State, error) {
	switch ss.format {
	case FormatProto:
		return ss.loadProto(path)
	case FormatJSON:
		return ss.loadJSON(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", ss.format.String())
	}
}

// saveProto saves state as a protobuf Struct
func (ss *StateSaver) saveProto(state map[string]interface{}, path string) error {
	msg, err := structpb.NewStruct(state)
	if err != nil {
		return fmt.Errorf("failed to convert state: %w", err)
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	return nil
}

// loadProto loads state from a protobuf Struct
func (ss *StateSaver) loadProto(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return State(msg.AsMap()), nil
}

// saveJSON saves state in JSON format
func (ss *StateSaver) saveJSON(state map[string]interface{}, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(state); err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	return file.Close()
}

// loadJSON loads state from JSON format
func (ss *StateSaver) loadJSON(path string) (State, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var state State
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}

	return state, nil
}

func normalizeState(state State) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(state))
	for k, v := range state {
		nv, err := normalizeValue(reflect.ValueOf(v))
		if err != nil {
			return nil, fmt.Errorf("failed to serialize state field %q: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

// normalizeValue flattens typed slices and maps into the generic forms structpb and
// encoding/json agree on.
func normalizeValue(rv reflect.Value) (interface{}, error) {
	if !rv.IsValid() {
		return nil, nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			// Neither JSON nor structpb round-trip these as numbers.
			return fmt.Sprint(f), nil
		}
		return f, nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return normalizeValue(rv.Elem())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		list := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := normalizeValue(rv.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map key type %s is not string", rv.Type().Key())
		}
		m := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			item, err := normalizeValue(iter.Value())
			if err != nil {
				return nil, err
			}
			m[iter.Key().String()] = item
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", rv.Type())
	}
}

// Package proto defines the length-prefixed, type-tagged binary wire
// format for the networked RTC variant (spec §4.7, §6 "Wire format"),
// generalizing the teacher's binary.BigEndian query-packet framing
// (server/query/conn.go) from a UDP datagram format to a length-prefixed
// TCP frame format, per spec §6's own suggestion of "length-prefixed framed
// messages with field-tagged records".
package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MsgType tags the payload carried by one frame.
type MsgType uint8

const (
	MsgReady MsgType = iota + 1
	MsgPolicyConfig
	MsgObservation
	MsgActionList
	MsgAck
)

// maxFrameLen bounds a single frame's payload, guarding against a corrupt
// or hostile length prefix causing an unbounded allocation.
const maxFrameLen = 64 << 20

var errFrameTooLarge = errors.New("proto: frame exceeds maximum length")

// WriteFrame writes one length-prefixed, type-tagged frame:
// uint32 total length (type byte + payload) | type byte | payload.
func WriteFrame(w io.Writer, typ MsgType, payload []byte) error {
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header, uint32(len(payload)+1))
	header[4] = byte(typ)
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("proto: write frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("proto: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one frame written by WriteFrame.
func ReadFrame(r io.Reader) (MsgType, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > maxFrameLen {
		return 0, nil, errFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("proto: read frame body: %w", err)
	}
	return MsgType(body[0]), body[1:], nil
}

// RemotePolicyConfig is the handshake payload of SendPolicyInstructions
// (spec §4.7 "Handshake").
type RemotePolicyConfig struct {
	PolicyType      string
	PretrainedPath  string
	Device          string
	ActionFeatures  []string
	ActionsPerChunk int32
}

// TimedObservation annotates an observation with wall-clock timestamp,
// timestep, and the must_go liveness flag (spec §3, §4.7).
type TimedObservation struct {
	Timestep  int64
	Timestamp float64
	MustGo    bool
	// Names/Values are parallel: Values[i] is the flattened data for
	// channel Names[i] (spec §3's Observation "mapping name->tensor").
	Names  []string
	Values [][]float64
}

// TimedAction annotates one action vector with wall-clock timestamp and
// timestep, used for client-side dedup/merge (spec §3, §4.7).
type TimedAction struct {
	Timestep  int64
	Timestamp float64
	Vector    []float64
}

// TimedActionList is the payload of one GetActions response.
type TimedActionList struct {
	Actions []TimedAction
}

// EncodeRemotePolicyConfig serializes cfg.
func EncodeRemotePolicyConfig(cfg RemotePolicyConfig) []byte {
	var buf bytes.Buffer
	writeString(&buf, cfg.PolicyType)
	writeString(&buf, cfg.PretrainedPath)
	writeString(&buf, cfg.Device)
	writeStringSlice(&buf, cfg.ActionFeatures)
	_ = binary.Write(&buf, binary.BigEndian, cfg.ActionsPerChunk)
	return buf.Bytes()
}

// DecodeRemotePolicyConfig deserializes a RemotePolicyConfig written by
// EncodeRemotePolicyConfig.
func DecodeRemotePolicyConfig(b []byte) (RemotePolicyConfig, error) {
	r := bytes.NewReader(b)
	var cfg RemotePolicyConfig
	var err error
	if cfg.PolicyType, err = readString(r); err != nil {
		return cfg, err
	}
	if cfg.PretrainedPath, err = readString(r); err != nil {
		return cfg, err
	}
	if cfg.Device, err = readString(r); err != nil {
		return cfg, err
	}
	if cfg.ActionFeatures, err = readStringSlice(r); err != nil {
		return cfg, err
	}
	if err = binary.Read(r, binary.BigEndian, &cfg.ActionsPerChunk); err != nil {
		return cfg, fmt.Errorf("proto: decode actions_per_chunk: %w", err)
	}
	return cfg, nil
}

// EncodeTimedObservation serializes obs.
func EncodeTimedObservation(obs TimedObservation) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, obs.Timestep)
	_ = binary.Write(&buf, binary.BigEndian, obs.Timestamp)
	writeBool(&buf, obs.MustGo)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(obs.Names)))
	for i, name := range obs.Names {
		writeString(&buf, name)
		writeFloatSlice(&buf, obs.Values[i])
	}
	return buf.Bytes()
}

// DecodeTimedObservation deserializes a TimedObservation written by
// EncodeTimedObservation.
func DecodeTimedObservation(b []byte) (TimedObservation, error) {
	r := bytes.NewReader(b)
	var obs TimedObservation
	if err := binary.Read(r, binary.BigEndian, &obs.Timestep); err != nil {
		return obs, fmt.Errorf("proto: decode timestep: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &obs.Timestamp); err != nil {
		return obs, fmt.Errorf("proto: decode timestamp: %w", err)
	}
	mustGo, err := readBool(r)
	if err != nil {
		return obs, err
	}
	obs.MustGo = mustGo

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return obs, fmt.Errorf("proto: decode channel count: %w", err)
	}
	obs.Names = make([]string, n)
	obs.Values = make([][]float64, n)
	for i := range obs.Names {
		name, err := readString(r)
		if err != nil {
			return obs, err
		}
		vals, err := readFloatSlice(r)
		if err != nil {
			return obs, err
		}
		obs.Names[i] = name
		obs.Values[i] = vals
	}
	return obs, nil
}

// EncodeTimedActionList serializes list.
func EncodeTimedActionList(list TimedActionList) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(list.Actions)))
	for _, a := range list.Actions {
		_ = binary.Write(&buf, binary.BigEndian, a.Timestep)
		_ = binary.Write(&buf, binary.BigEndian, a.Timestamp)
		writeFloatSlice(&buf, a.Vector)
	}
	return buf.Bytes()
}

// DecodeTimedActionList deserializes a TimedActionList written by
// EncodeTimedActionList.
func DecodeTimedActionList(b []byte) (TimedActionList, error) {
	r := bytes.NewReader(b)
	var list TimedActionList
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return list, fmt.Errorf("proto: decode action count: %w", err)
	}
	list.Actions = make([]TimedAction, n)
	for i := range list.Actions {
		var a TimedAction
		if err := binary.Read(r, binary.BigEndian, &a.Timestep); err != nil {
			return list, fmt.Errorf("proto: decode action timestep: %w", err)
		}
		if err := binary.Read(r, binary.BigEndian, &a.Timestamp); err != nil {
			return list, fmt.Errorf("proto: decode action timestamp: %w", err)
		}
		vec, err := readFloatSlice(r)
		if err != nil {
			return list, err
		}
		a.Vector = vec
		list.Actions[i] = a
	}
	return list, nil
}

func writeString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", fmt.Errorf("proto: decode string length: %w", err)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("proto: decode string body: %w", err)
	}
	return string(b), nil
}

func writeStringSlice(buf *bytes.Buffer, s []string) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(s)))
	for _, v := range s {
		writeString(buf, v)
	}
}

func readStringSlice(r *bytes.Reader) ([]string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("proto: decode string slice length: %w", err)
	}
	out := make([]string, n)
	for i := range out {
		v, err := readString(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func writeFloatSlice(buf *bytes.Buffer, v []float64) {
	_ = binary.Write(buf, binary.BigEndian, uint32(len(v)))
	for _, f := range v {
		_ = binary.Write(buf, binary.BigEndian, f)
	}
}

func readFloatSlice(r *bytes.Reader) ([]float64, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("proto: decode float slice length: %w", err)
	}
	out := make([]float64, n)
	for i := range out {
		if err := binary.Read(r, binary.BigEndian, &out[i]); err != nil {
			return nil, fmt.Errorf("proto: decode float slice element: %w", err)
		}
	}
	return out, nil
}

func writeBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, fmt.Errorf("proto: decode bool: %w", err)
	}
	return b != 0, nil
}

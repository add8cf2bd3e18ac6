package domain

import (
	"encoding/json"
	"fmt"
)

// envelope is the wire form used by cross-process transports.
type envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var decoders = map[MessageType]func(json.RawMessage) (Message, error){
	MsgGetState:        decodeAs[GetState],
	MsgPlay:            decodeAs[Play],
	MsgPause:           decodeAs[Pause],
	MsgStop:            decodeAs[Stop],
	MsgSeek:            decodeAs[Seek],
	MsgSetVolume:       decodeAs[SetVolume],
	MsgAddTrack:        decodeAs[AddTrack],
	MsgRemoveTrack:     decodeAs[RemoveTrack],
	MsgSetCurrentTrack: decodeAs[SetCurrentTrack],
	MsgNextTrack:       decodeAs[NextTrack],
	MsgPreviousTrack:   decodeAs[PreviousTrack],

	MsgStateBroadcast: decodeAs[StateBroadcast],

	MsgPlayAudio:      decodeAs[PlayAudio],
	MsgPauseAudio:     decodeAs[PauseAudio],
	MsgStopAudio:      decodeAs[StopAudio],
	MsgSeekAudio:      decodeAs[SeekAudio],
	MsgSetAudioVolume: decodeAs[SetAudioVolume],
	MsgGetAudioState:  decodeAs[GetAudioState],
	MsgPing:           decodeAs[Ping],

	MsgAudioStateUpdate: decodeAs[AudioStateUpdate],
	MsgTrackEnded:       decodeAs[TrackEnded],
	MsgAudioError:       decodeAs[AudioError],

	MsgStateReply:      decodeAs[StateReply],
	MsgAudioStateReply: decodeAs[AudioStateReply],
	MsgAck:             decodeAs[Ack],
	MsgErrorReply:      decodeAs[ErrorReply],
}

func decodeAs[T Message](raw json.RawMessage) (Message, error) {
	var msg T
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// EncodeMessage serializes a message into its JSON envelope.
func EncodeMessage(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	if string(payload) == "{}" {
		payload = nil
	}
	return json.Marshal(envelope{Type: msg.Type(), Payload: payload})
}

// DecodeMessage parses a JSON envelope back into a concrete message.
func DecodeMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	decode, ok := decoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}

	msg, err := decode(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return msg, nil
}

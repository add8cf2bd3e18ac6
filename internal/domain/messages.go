// Package domain defines the closed message taxonomy exchanged between contexts.
// Every message is a concrete struct; the unexported marker methods keep the set closed
// so handlers can switch on the concrete type instead of on strings.
package domain

// MessageType is the wire name of a message.
type MessageType string

// Panel -> Controller intents.
const (
	MsgGetState        MessageType = "GET_STATE"
	MsgPlay            MessageType = "PLAY"
	MsgPause           MessageType = "PAUSE"
	MsgStop            MessageType = "STOP"
	MsgSeek            MessageType = "SEEK"
	MsgSetVolume       MessageType = "SET_VOLUME"
	MsgAddTrack        MessageType = "ADD_TRACK"
	MsgRemoveTrack     MessageType = "REMOVE_TRACK"
	MsgSetCurrentTrack MessageType = "SET_CURRENT_TRACK"
	MsgNextTrack       MessageType = "NEXT_TRACK"
	MsgPreviousTrack   MessageType = "PREVIOUS_TRACK"
)

// Controller -> Panel push.
const (
	MsgStateBroadcast MessageType = "STATE_BROADCAST"
)

// Controller -> Engine commands.
const (
	MsgPlayAudio      MessageType = "PLAY_AUDIO"
	MsgPauseAudio     MessageType = "PAUSE_AUDIO"
	MsgStopAudio      MessageType = "STOP_AUDIO"
	MsgSeekAudio      MessageType = "SEEK_AUDIO"
	MsgSetAudioVolume MessageType = "SET_AUDIO_VOLUME"
	MsgGetAudioState  MessageType = "GET_AUDIO_STATE"
	MsgPing           MessageType = "PING"
)

// Engine -> Controller reports.
const (
	MsgAudioStateUpdate MessageType = "AUDIO_STATE_UPDATE"
	MsgTrackEnded       MessageType = "TRACK_ENDED"
	MsgAudioError       MessageType = "AUDIO_ERROR"
)

// Replies.
const (
	MsgStateReply      MessageType = "STATE_REPLY"
	MsgAudioStateReply MessageType = "AUDIO_STATE_REPLY"
	MsgAck             MessageType = "ACK"
	MsgErrorReply      MessageType = "ERROR_REPLY"
)

// Message is any value that can travel on the message bus.
type Message interface {
	Type() MessageType
	isMessage()
}

// Intent is a request from the panel to change (or read) canonical state.
type Intent interface {
	Message
	isIntent()
}

// Report is a notification from the engine about observed device state.
type Report interface {
	Message
	isReport()
}

// Command is a transport instruction from the controller to the engine.
type Command interface {
	Message
	isCommand()
}

type intent struct{}

func (intent) isMessage() {}
func (intent) isIntent()  {}

type report struct{}

func (report) isMessage() {}
func (report) isReport()  {}

type command struct{}

func (command) isMessage() {}
func (command) isCommand() {}

type reply struct{}

func (reply) isMessage() {}

// GetState asks the controller for a full state copy.
type GetState struct{ intent }

func (GetState) Type() MessageType { return MsgGetState }

// Play starts playback of the selected track.
type Play struct{ intent }

func (Play) Type() MessageType { return MsgPlay }

// Pause pauses playback.
type Pause struct{ intent }

func (Pause) Type() MessageType { return MsgPause }

// Stop stops playback and rewinds.
type Stop struct{ intent }

func (Stop) Type() MessageType { return MsgStop }

// Seek moves the playback position.
type Seek struct {
	intent
	Time float64 `json:"time"`
}

func (Seek) Type() MessageType { return MsgSeek }

// SetVolume changes the output volume.
type SetVolume struct {
	intent
	Volume float64 `json:"volume"`
}

func (SetVolume) Type() MessageType { return MsgSetVolume }

// AddTrack appends a track to the playlist.
type AddTrack struct {
	intent
	Track Track `json:"track"`
}

func (AddTrack) Type() MessageType { return MsgAddTrack }

// RemoveTrack removes a track by id.
type RemoveTrack struct {
	intent
	TrackID string `json:"trackId"`
}

func (RemoveTrack) Type() MessageType { return MsgRemoveTrack }

// SetCurrentTrack selects a track by id, keeping the play/pause state.
type SetCurrentTrack struct {
	intent
	TrackID string `json:"trackId"`
}

func (SetCurrentTrack) Type() MessageType { return MsgSetCurrentTrack }

// NextTrack selects the cyclic successor.
type NextTrack struct{ intent }

func (NextTrack) Type() MessageType { return MsgNextTrack }

// PreviousTrack selects the cyclic predecessor.
type PreviousTrack struct{ intent }

func (PreviousTrack) Type() MessageType { return MsgPreviousTrack }

// StateBroadcast pushes a full state copy to every open panel.
type StateBroadcast struct {
	State State `json:"state"`
}

func (StateBroadcast) Type() MessageType { return MsgStateBroadcast }
func (StateBroadcast) isMessage()        {}

// PlayAudio binds (if needed) and starts a source.
type PlayAudio struct {
	command
	URL string `json:"url"`
}

func (PlayAudio) Type() MessageType { return MsgPlayAudio }

// PauseAudio pauses the device.
type PauseAudio struct{ command }

func (PauseAudio) Type() MessageType { return MsgPauseAudio }

// StopAudio pauses the device and resets its position.
type StopAudio struct{ command }

func (StopAudio) Type() MessageType { return MsgStopAudio }

// SeekAudio moves the device position.
type SeekAudio struct {
	command
	Time float64 `json:"time"`
}

func (SeekAudio) Type() MessageType { return MsgSeekAudio }

// SetAudioVolume changes the device volume.
type SetAudioVolume struct {
	command
	Volume float64 `json:"volume"`
}

func (SetAudioVolume) Type() MessageType { return MsgSetAudioVolume }

// GetAudioState asks the engine for a device snapshot.
type GetAudioState struct{ command }

func (GetAudioState) Type() MessageType { return MsgGetAudioState }

// Ping probes whether an engine is listening.
type Ping struct{ command }

func (Ping) Type() MessageType { return MsgPing }

// AudioStateUpdate carries a device snapshot taken after a lifecycle event.
type AudioStateUpdate struct {
	report
	Event    DeviceEventKind `json:"event"`
	Snapshot DeviceSnapshot  `json:"snapshot"`
}

func (AudioStateUpdate) Type() MessageType { return MsgAudioStateUpdate }

// TrackEnded reports that the bound source played to its end.
type TrackEnded struct{ report }

func (TrackEnded) Type() MessageType { return MsgTrackEnded }

// AudioError reports a device or load failure.
type AudioError struct {
	report
	Error string `json:"error"`
}

func (AudioError) Type() MessageType { return MsgAudioError }

// StateReply answers an intent with the state after it was applied.
type StateReply struct {
	reply
	State State `json:"state"`
}

func (StateReply) Type() MessageType { return MsgStateReply }

// AudioStateReply answers GET_AUDIO_STATE.
type AudioStateReply struct {
	reply
	Snapshot DeviceSnapshot `json:"snapshot"`
}

func (AudioStateReply) Type() MessageType { return MsgAudioStateReply }

// Ack acknowledges a command.
type Ack struct{ reply }

func (Ack) Type() MessageType { return MsgAck }

// ErrorReply carries a failure back to a requester.
type ErrorReply struct {
	reply
	Error string `json:"error"`
}

func (ErrorReply) Type() MessageType { return MsgErrorReply }

// NewErrorReply wraps err for the wire.
func NewErrorReply(err error) ErrorReply {
	return ErrorReply{Error: err.Error()}
}

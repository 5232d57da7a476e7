// Package protocol defines the event channel wire format: a closed set of
// event names, the JSON envelope and one typed payload per event.
package protocol

// Inbound events.
const (
	EvJoinRoom                    = "joinRoom"
	EvLeaveRoom                   = "leaveRoom"
	EvSendMessage                 = "sendMessage"
	EvTyping                      = "typing"
	EvEndMeeting                  = "endMeeting"
	EvCallInvite                  = "callInvite"
	EvCallAccept                  = "callAccept"
	EvCallReject                  = "callReject"
	EvCallEnd                     = "callEnd"
	EvCallOffer                   = "callOffer"
	EvCallAnswer                  = "callAnswer"
	EvIceCandidate                = "iceCandidate"
	EvHeartbeat                   = "heartbeat"
	EvXfyunTranscriptionStart     = "xfyunTranscriptionStart"
	EvXfyunTranscriptionStop      = "xfyunTranscriptionStop"
	EvXfyunTranscriptionResult    = "xfyunTranscriptionResult"
	EvStartStreamingTranscription = "startStreamingTranscription"
	EvAudioData                   = "audioData"
	EvStopStreamingTranscription  = "stopStreamingTranscription"
)

// Outbound events.
const (
	EvRoomData                     = "roomData"
	EvUserJoined                   = "userJoined"
	EvUserLeft                     = "userLeft"
	EvParticipantsUpdate           = "participantsUpdate"
	EvNewMessage                   = "newMessage"
	EvUserTyping                   = "userTyping"
	EvMeetingEnded                 = "meetingEnded"
	EvEndMeetingSuccess            = "endMeetingSuccess"
	EvHeartbeatResponse            = "heartbeatResponse"
	EvForceDisconnect              = "forceDisconnect"
	EvError                        = "error"
	EvTranscriptionStatusChange    = "transcriptionStatusChange"
	EvTranscriptionResult          = "transcriptionResult"
	EvTranscriptionReceived        = "transcriptionReceived"
	EvStreamingTranscriptionStart  = "streamingTranscriptionStarted"
	EvStreamingTranscriptionResult = "streamingTranscriptionResult"
	EvStreamingTranscriptionError  = "streamingTranscriptionError"
	EvStreamingTranscriptionStop   = "streamingTranscriptionStopped"
)

// Error codes carried by the error event.
const (
	CodeBadPayload          = "bad_payload"
	CodeMissingFields       = "missing_fields"
	CodeUnknownEvent        = "unknown_event"
	CodeNotOwner            = "not_owner"
	CodeNotJoined           = "not_joined"
	CodeRoomNotFound        = "room_not_found"
	CodeRateLimited         = "rate_limited"
	CodeInvalidSDP          = "invalid_sdp"
	CodeTranscriptionFailed = "transcription_failed"
	CodeInternal            = "internal"
)

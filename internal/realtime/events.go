package realtime

import (
	"encoding/json"
	"fmt"
)

// EndConversationTool is the tool name the model invokes to propose ending
// the prescreen conversation.
const EndConversationTool = "end_conversation"

// ServerEvent is a decoded side-channel event from the realtime service
type ServerEvent interface {
	EventType() string
}

// TextDeltaEvent carries the full accumulated interim text for the current
// turn. Despite the "delta" naming the payload replaces the previous interim
// text rather than extending it.
type TextDeltaEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

func (e *TextDeltaEvent) EventType() string { return e.Type }

// TextDoneEvent finalizes the current interim transcript entry
type TextDoneEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (e *TextDoneEvent) EventType() string { return e.Type }

// ResponseDoneEvent signals a completed model response
type ResponseDoneEvent struct {
	Type     string `json:"type"`
	Response struct {
		Output []struct {
			Content []struct {
				Type       string `json:"type"`
				Text       string `json:"text"`
				Transcript string `json:"transcript"`
			} `json:"content"`
		} `json:"output"`
	} `json:"response"`
}

func (e *ResponseDoneEvent) EventType() string { return e.Type }

// Text collects the textual content of the completed response
func (e *ResponseDoneEvent) Text() string {
	out := ""
	for _, item := range e.Response.Output {
		for _, part := range item.Content {
			if part.Text != "" {
				out += part.Text
			} else if part.Transcript != "" {
				out += part.Transcript
			}
		}
	}
	return out
}

// SpeechStartedEvent signals that server-side voice activity detection heard
// the user start speaking.
type SpeechStartedEvent struct {
	Type string `json:"type"`
}

func (e *SpeechStartedEvent) EventType() string { return e.Type }

// SpeechStoppedEvent signals the end of user speech or a committed input
// audio buffer.
type SpeechStoppedEvent struct {
	Type string `json:"type"`
}

func (e *SpeechStoppedEvent) EventType() string { return e.Type }

// ToolInvokedEvent is a completed tool call from the model
type ToolInvokedEvent struct {
	Type      string `json:"type"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (e *ToolInvokedEvent) EventType() string { return e.Type }

// ConfirmationMessage extracts the confirmation prompt from the tool
// arguments, falling back to a default when absent or malformed.
func (e *ToolInvokedEvent) ConfirmationMessage() string {
	var args struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(e.Arguments), &args); err == nil && args.Message != "" {
		return args.Message
	}
	return "Is there anything else I can help you with?"
}

// ErrorEvent is a non-fatal error reported by the realtime service
type ErrorEvent struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *ErrorEvent) EventType() string { return e.Type }

// AudioDeltaEvent carries base64 PCM agent audio on the websocket transport
type AudioDeltaEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

func (e *AudioDeltaEvent) EventType() string { return e.Type }

// DecodeServerEvent decodes a raw side-channel payload into a typed event.
// Unknown event types decode to nil with no error so callers can skip them;
// malformed payloads return a ProtocolError.
func DecodeServerEvent(raw []byte) (ServerEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &ProtocolError{Err: fmt.Errorf("undecodable payload: %w", err)}
	}
	if envelope.Type == "" {
		return nil, &ProtocolError{Err: fmt.Errorf("payload missing type field")}
	}

	decode := func(event ServerEvent) (ServerEvent, error) {
		if err := json.Unmarshal(raw, event); err != nil {
			return nil, &ProtocolError{EventType: envelope.Type, Err: err}
		}
		return event, nil
	}

	switch envelope.Type {
	case "response.output_text.delta",
		"response.output_audio_transcript.delta",
		"response.audio_transcript.delta":
		return decode(&TextDeltaEvent{})

	case "response.output_text.done",
		"response.output_audio_transcript.done",
		"response.audio_transcript.done":
		return decode(&TextDoneEvent{})

	case "response.done":
		return decode(&ResponseDoneEvent{})

	case "input_audio_buffer.speech_started":
		return decode(&SpeechStartedEvent{})

	case "input_audio_buffer.speech_stopped", "input_audio_buffer.committed":
		return decode(&SpeechStoppedEvent{})

	case "response.function_call_arguments.done":
		return decode(&ToolInvokedEvent{})

	case "response.output_audio.delta", "response.audio.delta":
		return decode(&AudioDeltaEvent{})

	case "error":
		return decode(&ErrorEvent{})
	}

	// Unknown types are skipped, not errors
	return nil, nil
}

// Tool describes a function made available to the model
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// EndConversationToolDef returns the tool definition the model uses to
// propose ending the conversation.
func EndConversationToolDef() Tool {
	return Tool{
		Type:        "function",
		Name:        EndConversationTool,
		Description: "Call when the patient indicates the prescreen conversation is complete. Provide a short confirmation question to ask before ending.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"message": {
					"type": "string",
					"description": "Confirmation question to ask the patient before ending"
				}
			},
			"required": ["message"]
		}`),
	}
}

// SessionUpdatePayload configures the realtime session
func SessionUpdatePayload(instructions, voice string) map[string]any {
	return map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"instructions": instructions,
			"voice":        voice,
			"tools":        []Tool{EndConversationToolDef()},
			"tool_choice":  "auto",
		},
	}
}

// ResponseCreatePayload requests a new model turn
func ResponseCreatePayload() map[string]any {
	return map[string]any{
		"type": "response.create",
		"response": map[string]any{
			"modalities": []string{"audio", "text"},
		},
	}
}

// ToolOutputPayload acknowledges a tool call
func ToolOutputPayload(callID, output string) map[string]any {
	return map[string]any{
		"type": "response.submit_tool_outputs",
		"tool_outputs": []map[string]any{
			{"tool_call_id": callID, "output": output},
		},
	}
}

// InputAudioAppendPayload carries base64 PCM mic audio on the websocket
// transport.
func InputAudioAppendPayload(b64Audio string) map[string]any {
	return map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": b64Audio,
	}
}

// InputAudioCommitPayload closes out the current input utterance
func InputAudioCommitPayload() map[string]any {
	return map[string]any{"type": "input_audio_buffer.commit"}
}

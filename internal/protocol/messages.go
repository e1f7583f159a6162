// Package protocol defines the messages exchanged between the host-side
// producer and the viewer, and the string form used for pixel payloads.
package protocol

import (
	"errors"
	"fmt"

	"github.com/Faultbox/texlink/internal/settings"
)

// Kind identifies a message on the bridge.
type Kind string

// Producer -> viewer
const (
	KindPartialUpdate   Kind = "PARTIAL_UPDATE"
	KindFullUpdate      Kind = "FULL_UPDATE" // legacy single-message update
	KindDocumentChanged Kind = "DOCUMENT_CHANGED"
	KindDocumentClosed  Kind = "DOCUMENT_CLOSED"
	KindPushSettings    Kind = "PUSH_SETTINGS"
)

// Viewer -> producer
const (
	KindReady          Kind = "Ready"
	KindRequestUpdate  Kind = "RequestUpdate"
	KindUpdateSettings Kind = "UpdateSettings"
)

// ErrInvalidMessage is returned by Validate for malformed messages.
var ErrInvalidMessage = errors.New("invalid message")

// ToViewer reports whether messages of this kind travel from producer to viewer.
func (k Kind) ToViewer() bool {
	switch k {
	case KindPartialUpdate, KindFullUpdate, KindDocumentChanged, KindDocumentClosed, KindPushSettings:
		return true
	}
	return false
}

// Message is the envelope for every kind. Fields a kind does not use stay zero.
type Message struct {
	Kind             Kind                   `json:"type"`
	DocumentID       int                    `json:"documentID,omitempty"`
	Width            int                    `json:"width,omitempty"`
	Height           int                    `json:"height,omitempty"`
	ComponentSize    int                    `json:"componentSize,omitempty"`
	PixelBatchOffset int                    `json:"pixelBatchOffset,omitempty"`
	PixelBatchSize   int                    `json:"pixelBatchSize,omitempty"`
	FullUpdate       bool                   `json:"fullUpdate,omitempty"`
	PixelString      string                 `json:"pixelString,omitempty"`
	Settings         *settings.UserSettings `json:"settings,omitempty"`
}

// PartialUpdate builds a PARTIAL_UPDATE message. Offset and size are in pixels.
func PartialUpdate(documentID, width, height, componentSize, offset, size int, pixels string) Message {
	return Message{
		Kind:             KindPartialUpdate,
		DocumentID:       documentID,
		Width:            width,
		Height:           height,
		ComponentSize:    componentSize,
		PixelBatchOffset: offset,
		PixelBatchSize:   size,
		PixelString:      pixels,
	}
}

// DocumentChanged announces the active document.
func DocumentChanged(documentID int) Message {
	return Message{Kind: KindDocumentChanged, DocumentID: documentID}
}

// DocumentClosed tells the viewer to release everything held for a document.
func DocumentClosed(documentID int) Message {
	return Message{Kind: KindDocumentClosed, DocumentID: documentID}
}

// PushSettings sends the current user settings to the viewer.
func PushSettings(s settings.UserSettings) Message {
	return Message{Kind: KindPushSettings, Settings: &s}
}

// Ready signals that the viewer can receive updates.
func Ready() Message {
	return Message{Kind: KindReady}
}

// RequestUpdate asks for a full refresh of all open documents.
func RequestUpdate() Message {
	return Message{Kind: KindRequestUpdate}
}

// UpdateSettings carries settings edited in the viewer.
func UpdateSettings(s settings.UserSettings) Message {
	return Message{Kind: KindUpdateSettings, Settings: &s}
}

// MaxTextureSize bounds each side of a streamed texture. It keeps a buffer
// within what GPUs accept and its byte size well inside int.
const MaxTextureSize = 16384

// Validate checks the structural invariants of a message.
func (m Message) Validate() error {
	switch m.Kind {
	case KindPartialUpdate, KindFullUpdate:
		if m.Width <= 0 || m.Height <= 0 {
			return fmt.Errorf("%w: %s for document %d has size %dx%d", ErrInvalidMessage, m.Kind, m.DocumentID, m.Width, m.Height)
		}
		if m.Width > MaxTextureSize || m.Height > MaxTextureSize {
			return fmt.Errorf("%w: %dx%d exceeds the %d pixel limit", ErrInvalidMessage, m.Width, m.Height, MaxTextureSize)
		}
		if m.Kind == KindFullUpdate {
			return nil
		}
		if m.PixelBatchOffset < 0 || m.PixelBatchSize <= 0 {
			return fmt.Errorf("%w: batch offset %d size %d", ErrInvalidMessage, m.PixelBatchOffset, m.PixelBatchSize)
		}
		if m.PixelBatchOffset+m.PixelBatchSize > m.Width*m.Height {
			return fmt.Errorf("%w: batch %d+%d exceeds %dx%d", ErrInvalidMessage,
				m.PixelBatchOffset, m.PixelBatchSize, m.Width, m.Height)
		}
	case KindPushSettings, KindUpdateSettings:
		if m.Settings == nil {
			return fmt.Errorf("%w: %s without settings", ErrInvalidMessage, m.Kind)
		}
	case KindDocumentChanged, KindDocumentClosed, KindReady, KindRequestUpdate:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}

// Batch returns the pixel window a pixel-carrying message covers.
// FULL_UPDATE messages cover the whole buffer.
func (m Message) Batch() (offset, size int) {
	if m.Kind == KindFullUpdate {
		return 0, m.Width * m.Height
	}
	return m.PixelBatchOffset, m.PixelBatchSize
}

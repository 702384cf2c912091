// Package ingest turns MQTT-delivered AIS wire records into aismsg.Message
// values and hands them to a sink (normally an *internal/manager.Manager)
// for segmentation.
package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/trackline/aissegment/internal/aismsg"
)

// WireMessage is the on-the-wire JSON shape of one already-decoded AIS
// record, as published by the upstream AIS receiver/decoder this system
// treats as an external collaborator. Field names mirror aismsg.Message.
type WireMessage struct {
	ID        string    `json:"id"`
	SSVID     int64     `json:"ssvid"`
	Timestamp time.Time `json:"timestamp"`

	Lat *float64 `json:"lat,omitempty"`
	Lon *float64 `json:"lon,omitempty"`

	Speed   *float64 `json:"speed,omitempty"`
	Course  *float64 `json:"course,omitempty"`
	Heading *float64 `json:"heading,omitempty"`

	Type int `json:"type"`

	ShipName    *string `json:"shipname,omitempty"`
	CallSign    *string `json:"callsign,omitempty"`
	IMO         *int64  `json:"imo,omitempty"`
	Destination *string `json:"destination,omitempty"`

	Length *float64 `json:"length,omitempty"`
	Width  *float64 `json:"width,omitempty"`

	Receiver *string `json:"receiver,omitempty"`
}

// Parser decodes raw MQTT payloads into aismsg.Message values.
type Parser struct{}

// NewParser constructs a Parser. It holds no state; the type exists so the
// ingestion client can depend on an interface-shaped collaborator the way
// the teacher's MQTT client depends on its own Parser.
func NewParser() *Parser { return &Parser{} }

// Parse decodes one MQTT payload. topic is accepted for parity with the
// teacher's Parse signature (topic-derived metadata) but is not currently
// consulted, since the wire record is self-describing.
func (p *Parser) Parse(topic string, payload []byte) (aismsg.Message, error) {
	var wire WireMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		return aismsg.Message{}, fmt.Errorf("ingest: decode payload from topic %q: %w", topic, err)
	}
	if wire.ID == "" {
		return aismsg.Message{}, fmt.Errorf("ingest: message from topic %q missing id", topic)
	}
	if wire.SSVID == 0 {
		return aismsg.Message{}, fmt.Errorf("ingest: message %q missing ssvid", wire.ID)
	}

	return aismsg.Message{
		ID:          wire.ID,
		SSVID:       wire.SSVID,
		Timestamp:   wire.Timestamp.UTC(),
		Lat:         wire.Lat,
		Lon:         wire.Lon,
		Speed:       wire.Speed,
		Course:      wire.Course,
		Heading:     wire.Heading,
		Type:        wire.Type,
		ShipName:    wire.ShipName,
		CallSign:    wire.CallSign,
		IMO:         wire.IMO,
		Destination: wire.Destination,
		Length:      wire.Length,
		Width:       wire.Width,
		Receiver:    wire.Receiver,
	}, nil
}

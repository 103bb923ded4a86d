package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-stomp/stomp/v3/frame"
)

const (
	topicPrefix = "/topic/auction."
	joinPrefix  = "/auctions/join/"
)

var errEmptyFrame = errors.New("empty frame")

// Encode renders one STOMP frame as a single websocket payload.
func Encode(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses one websocket payload. A heart-beat payload yields
// (nil, nil).
func Decode(data []byte) (*frame.Frame, error) {
	if len(data) == 0 {
		return nil, errEmptyFrame
	}
	if len(bytes.Trim(data, "\r\n")) == 0 {
		return nil, nil
	}
	return frame.NewReader(bytes.NewReader(data)).Read()
}

// NewFrame builds a frame with a body and a matching content-length.
func NewFrame(command string, body []byte, headers ...string) *frame.Frame {
	f := frame.New(command, headers...)
	if len(body) > 0 {
		f.Header.Set(frame.ContentLength, strconv.Itoa(len(body)))
		f.Body = body
	}
	return f
}

func AuctionTopic(auctionID int64) string {
	return topicPrefix + strconv.FormatInt(auctionID, 10)
}

func JoinDestination(auctionID int64) string {
	return joinPrefix + strconv.FormatInt(auctionID, 10)
}

// AuctionIDFromTopic accepts "/topic/auction.<id>" or "auction.<id>".
func AuctionIDFromTopic(topic string) (int64, error) {
	idx := strings.LastIndex(topic, "auction.")
	if idx < 0 {
		return 0, fmt.Errorf("topic %q is not an auction topic", topic)
	}
	id, err := strconv.ParseInt(topic[idx+len("auction."):], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("topic %q has no auction id", topic)
	}
	return id, nil
}

// AuctionIDFromJoin parses "/auctions/join/<id>".
func AuctionIDFromJoin(dest string) (int64, error) {
	if !strings.HasPrefix(dest, joinPrefix) {
		return 0, fmt.Errorf("destination %q is not a join destination", dest)
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(dest, joinPrefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("destination %q has no auction id", dest)
	}
	return id, nil
}

func normalizeTopic(topic string) string {
	if strings.HasPrefix(topic, "/") {
		return topic
	}
	return "/topic/" + topic
}

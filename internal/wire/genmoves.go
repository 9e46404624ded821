package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// ChildStat is one child-of-root line: "coord playouts value amaf_playouts amaf_value".
type ChildStat struct {
	Coord        string
	Playouts     int
	Value        float64
	AMAFPlayouts int
	AMAFValue    float64
}

func (c ChildStat) encode() string {
	return fmt.Sprintf("%s %d %s %d %s",
		c.Coord, c.Playouts, FormatFloat7(c.Value), c.AMAFPlayouts, FormatFloat7(c.AMAFValue))
}

func decodeChildStat(line string) (ChildStat, error) {
	f := strings.Fields(line)
	if len(f) != 5 {
		return ChildStat{}, fmt.Errorf("wire: malformed child-stat line %q", line)
	}
	playouts, err := strconv.Atoi(f[1])
	if err != nil {
		return ChildStat{}, fmt.Errorf("wire: malformed playouts in %q: %w", line, err)
	}
	value, err := strconv.ParseFloat(f[2], 64)
	if err != nil {
		return ChildStat{}, fmt.Errorf("wire: malformed value in %q: %w", line, err)
	}
	amafPlayouts, err := strconv.Atoi(f[3])
	if err != nil {
		return ChildStat{}, fmt.Errorf("wire: malformed amaf_playouts in %q: %w", line, err)
	}
	amafValue, err := strconv.ParseFloat(f[4], 64)
	if err != nil {
		return ChildStat{}, fmt.Errorf("wire: malformed amaf_value in %q: %w", line, err)
	}
	return ChildStat{
		Coord:        f[0],
		Playouts:     playouts,
		Value:        value,
		AMAFPlayouts: amafPlayouts,
		AMAFValue:    amafValue,
	}, nil
}

// GenmovesHeader is the first line of a genmoves command's args.
type GenmovesHeader struct {
	Color          string
	Played         string
	HasTimeInfo    bool
	MainTime       float64
	ByoyomiTime    float64
	ByoyomiPeriods int
	ByoyomiStones  int
}

func (h GenmovesHeader) encode() string {
	s := fmt.Sprintf("%s %s", h.Color, h.Played)
	if h.HasTimeInfo {
		s += fmt.Sprintf(" %s %s %d %d",
			FormatFloat7(h.MainTime), FormatFloat7(h.ByoyomiTime), h.ByoyomiPeriods, h.ByoyomiStones)
	}
	return s
}

func decodeGenmovesHeader(line string) (GenmovesHeader, error) {
	f := strings.Fields(line)
	if len(f) != 2 && len(f) != 6 {
		return GenmovesHeader{}, fmt.Errorf("wire: malformed genmoves header %q", line)
	}
	h := GenmovesHeader{Color: f[0], Played: f[1]}
	if len(f) == 6 {
		var err error
		if h.MainTime, err = strconv.ParseFloat(f[2], 64); err != nil {
			return GenmovesHeader{}, fmt.Errorf("wire: malformed main_time in %q: %w", line, err)
		}
		if h.ByoyomiTime, err = strconv.ParseFloat(f[3], 64); err != nil {
			return GenmovesHeader{}, fmt.Errorf("wire: malformed byoyomi_time in %q: %w", line, err)
		}
		if h.ByoyomiPeriods, err = strconv.Atoi(f[4]); err != nil {
			return GenmovesHeader{}, fmt.Errorf("wire: malformed byoyomi_periods in %q: %w", line, err)
		}
		if h.ByoyomiStones, err = strconv.Atoi(f[5]); err != nil {
			return GenmovesHeader{}, fmt.Errorf("wire: malformed byoyomi_stones in %q: %w", line, err)
		}
		h.HasTimeInfo = true
	}
	return h, nil
}

// GenmovesRequest is the full args payload of a pachi-genmoves[_cleanup] command.
type GenmovesRequest struct {
	Header GenmovesHeader
	Priors []ChildStat
}

// EncodeGenmovesRequest renders a GenmovesRequest as the multi-line Args
// string expected by WriteCommand for a genmoves verb.
func EncodeGenmovesRequest(req GenmovesRequest) string {
	lines := make([]string, 0, len(req.Priors)+1)
	lines = append(lines, req.Header.encode())
	for _, c := range req.Priors {
		lines = append(lines, c.encode())
	}
	return strings.Join(lines, "\n")
}

// DecodeGenmovesRequest parses a Command.Args string produced for a
// genmoves verb back into a GenmovesRequest.
func DecodeGenmovesRequest(args string) (GenmovesRequest, error) {
	if args == "" {
		return GenmovesRequest{}, fmt.Errorf("wire: empty genmoves args")
	}
	lines := strings.Split(args, "\n")
	header, err := decodeGenmovesHeader(lines[0])
	if err != nil {
		return GenmovesRequest{}, err
	}
	req := GenmovesRequest{Header: header}
	for _, l := range lines[1:] {
		if l == "" {
			continue
		}
		cs, err := decodeChildStat(l)
		if err != nil {
			return GenmovesRequest{}, err
		}
		req.Priors = append(req.Priors, cs)
	}
	return req, nil
}

// GenmovesReplyBody is the parsed payload of a genmoves success reply.
type GenmovesReplyBody struct {
	PlayedOwn      string
	TotalPlayouts  int
	Threads        int
	KeepLooking    bool
	Children       []ChildStat
}

func boolTo01(b bool) int {
	if b {
		return 1
	}
	return 0
}

// EncodeGenmovesReply renders a GenmovesReplyBody as a Reply.Payload string.
func EncodeGenmovesReply(body GenmovesReplyBody) string {
	lines := make([]string, 0, len(body.Children)+1)
	lines = append(lines, fmt.Sprintf("%s %d %d %d",
		body.PlayedOwn, body.TotalPlayouts, body.Threads, boolTo01(body.KeepLooking)))
	for _, c := range body.Children {
		lines = append(lines, c.encode())
	}
	return strings.Join(lines, "\n")
}

// DecodeGenmovesReply parses a Reply.Payload string for a genmoves reply.
func DecodeGenmovesReply(payload string) (GenmovesReplyBody, error) {
	lines := strings.Split(payload, "\n")
	if len(lines) == 0 || lines[0] == "" {
		return GenmovesReplyBody{}, fmt.Errorf("wire: empty genmoves reply")
	}
	f := strings.Fields(lines[0])
	if len(f) != 4 {
		return GenmovesReplyBody{}, fmt.Errorf("wire: malformed genmoves reply header %q", lines[0])
	}
	totalPlayouts, err := strconv.Atoi(f[1])
	if err != nil {
		return GenmovesReplyBody{}, fmt.Errorf("wire: malformed total_playouts in %q: %w", lines[0], err)
	}
	threads, err := strconv.Atoi(f[2])
	if err != nil {
		return GenmovesReplyBody{}, fmt.Errorf("wire: malformed threads in %q: %w", lines[0], err)
	}
	keepLooking, err := strconv.Atoi(f[3])
	if err != nil {
		return GenmovesReplyBody{}, fmt.Errorf("wire: malformed keep_looking in %q: %w", lines[0], err)
	}
	body := GenmovesReplyBody{
		PlayedOwn:     f[0],
		TotalPlayouts: totalPlayouts,
		Threads:       threads,
		KeepLooking:   keepLooking != 0,
	}
	for _, l := range lines[1:] {
		if l == "" {
			continue
		}
		cs, err := decodeChildStat(l)
		if err != nil {
			return GenmovesReplyBody{}, err
		}
		body.Children = append(body.Children, cs)
	}
	return body, nil
}

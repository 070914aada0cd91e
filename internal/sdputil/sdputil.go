// Package sdputil provides pure transforms over SDP text: codec-order
// negotiation, Opus bitrate capping, and codec extraction for telemetry.
// All functions leave unrelated lines byte-for-byte untouched and preserve
// the input's line-ending convention.
package sdputil

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pion/sdp/v3"
)

const (
	// MinMaxAverageBitrate and MaxMaxAverageBitrate bound the values the
	// Opus maxaveragebitrate fmtp parameter accepts.
	MinMaxAverageBitrate = 6000
	MaxMaxAverageBitrate = 510000

	// DefaultOpusPayloadType is assumed when no Opus rtpmap entry exists.
	DefaultOpusPayloadType = "111"
)

// fixedBitrateCodecs are audio codecs whose bitrate cannot be adjusted;
// bandwidth lines are meaningless when one of these is negotiated first.
var fixedBitrateCodecs = map[string]bool{
	"pcmu": true,
	"pcma": true,
}

// implicitCodecs are payload types the SDP grammar defines without
// requiring an rtpmap line.
var implicitCodecs = map[string]string{
	"0": "pcmu",
	"8": "pcma",
}

var (
	rtpmapRe     = regexp.MustCompile(`^a=rtpmap:(\d+) ([^/\s]+)`)
	opusRtpmapRe = regexp.MustCompile(`(?m)^a=rtpmap:(\d+) opus`)
	mLineRe      = regexp.MustCompile(`^(m=(\S+) \S+ \S+)((?: \S+)*)\s*$`)
)

// GetPreferredCodecInfo extracts the first rtpmap entry's codec name and
// the matching fmtp parameter string. Both are empty when absent. The
// result is used for telemetry only.
func GetPreferredCodecInfo(sdpText string) (codecName, codecParams string) {
	parsed := &sdp.SessionDescription{}
	if err := parsed.Unmarshal([]byte(sdpText)); err != nil {
		return "", ""
	}

	var payloadType string
	for _, media := range parsed.MediaDescriptions {
		for _, attr := range media.Attributes {
			if attr.Key != "rtpmap" {
				continue
			}
			fields := strings.SplitN(attr.Value, " ", 2)
			if len(fields) != 2 {
				continue
			}
			payloadType = fields[0]
			codecName = strings.SplitN(fields[1], "/", 2)[0]
			break
		}
		if payloadType != "" {
			break
		}
	}
	if payloadType == "" {
		return "", ""
	}

	fmtpPrefix := payloadType + " "
	for _, media := range parsed.MediaDescriptions {
		for _, attr := range media.Attributes {
			if attr.Key == "fmtp" && strings.HasPrefix(attr.Value, fmtpPrefix) {
				return codecName, strings.TrimPrefix(attr.Value, fmtpPrefix)
			}
		}
	}
	return codecName, ""
}

// SetMaxAverageBitrate appends maxaveragebitrate to the Opus fmtp line.
// Out-of-range bitrates return the SDP unchanged. When no Opus rtpmap
// entry exists the default payload type 111 is assumed.
func SetMaxAverageBitrate(sdpText string, bitrate int) string {
	if bitrate < MinMaxAverageBitrate || bitrate > MaxMaxAverageBitrate {
		return sdpText
	}

	opusID := DefaultOpusPayloadType
	if m := opusRtpmapRe.FindStringSubmatch(sdpText); m != nil {
		opusID = m[1]
	}

	fmtpRe := regexp.MustCompile(`(?m)^a=fmtp:` + opusID + ` .+?(\r?)$`)
	return fmtpRe.ReplaceAllStringFunc(sdpText, func(line string) string {
		cr := ""
		if strings.HasSuffix(line, "\r") {
			line = strings.TrimSuffix(line, "\r")
			cr = "\r"
		}
		return fmt.Sprintf("%s;maxaveragebitrate=%d%s", line, bitrate, cr)
	})
}

// SetCodecPreferences reorders each audio/video section's payload types so
// codecs named in preferred (case-insensitive, in the order given) come
// first and the rest keep their original relative order. If the resulting
// first payload type of an audio section is a fixed-bitrate codec, the
// section's bandwidth lines are stripped. Non-audio/video sections pass
// through verbatim. An empty preferred list leaves the order unchanged
// (the bandwidth-stripping rule still applies to the existing order).
func SetCodecPreferences(sdpText string, preferred []string) string {
	lineBreak := "\n"
	if strings.Contains(sdpText, "\r\n") {
		lineBreak = "\r\n"
	}

	lines := strings.Split(sdpText, lineBreak)

	// Split into the session-level header and m= sections.
	var header []string
	var sections [][]string
	current := &header
	for _, line := range lines {
		if strings.HasPrefix(line, "m=") {
			sections = append(sections, []string{line})
			current = &sections[len(sections)-1]
			continue
		}
		*current = append(*current, line)
	}

	out := make([]string, 0, len(lines))
	out = append(out, header...)
	for _, section := range sections {
		out = append(out, reorderSection(section, preferred)...)
	}
	return strings.Join(out, lineBreak)
}

// reorderSection rewrites one media section per the preference list.
func reorderSection(section []string, preferred []string) []string {
	m := mLineRe.FindStringSubmatch(section[0])
	if m == nil {
		return section
	}
	kind := m[2]
	if kind != "audio" && kind != "video" {
		return section
	}

	originalOrder := strings.Fields(m[3])

	// Codec names per payload type, from the section's rtpmap lines plus
	// the static payload types that need no rtpmap entry.
	codecByPT := make(map[string]string, len(originalOrder))
	for pt, name := range implicitCodecs {
		codecByPT[pt] = name
	}
	for _, line := range section[1:] {
		if rm := rtpmapRe.FindStringSubmatch(line); rm != nil {
			codecByPT[rm[1]] = strings.ToLower(rm[2])
		}
	}

	ptsByCodec := make(map[string][]string)
	for _, pt := range originalOrder {
		if name, ok := codecByPT[pt]; ok {
			ptsByCodec[name] = append(ptsByCodec[name], pt)
		}
	}

	newOrder := make([]string, 0, len(originalOrder))
	taken := make(map[string]bool, len(originalOrder))
	for _, name := range preferred {
		for _, pt := range ptsByCodec[strings.ToLower(name)] {
			if !taken[pt] {
				taken[pt] = true
				newOrder = append(newOrder, pt)
			}
		}
	}
	for _, pt := range originalOrder {
		if !taken[pt] {
			taken[pt] = true
			newOrder = append(newOrder, pt)
		}
	}

	rewritten := make([]string, 0, len(section))
	mLine := m[1]
	if len(newOrder) > 0 {
		mLine += " " + strings.Join(newOrder, " ")
	}
	rewritten = append(rewritten, mLine)

	stripBandwidth := false
	if kind == "audio" && len(newOrder) > 0 {
		stripBandwidth = fixedBitrateCodecs[codecByPT[newOrder[0]]]
	}

	for _, line := range section[1:] {
		if stripBandwidth && (strings.HasPrefix(line, "b=AS:") || strings.HasPrefix(line, "b=TIAS:")) {
			continue
		}
		rewritten = append(rewritten, line)
	}
	return rewritten
}

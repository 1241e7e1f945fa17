package edge

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// RenderConfig carries the target-duration figures the text renderer needs
// beyond what RenditionPlaylist itself holds, mirroring
// muxerVariantFMP4Playlist's own targetDuration/partTargetDuration fields.
type RenderConfig struct {
	TargetPartDuration    time.Duration
	TargetSegmentDuration time.Duration
	HoldBackSeconds       float64
}

// targetDurationSeconds rounds a segment duration to the nearest integer second,
// per the HLS rule that EXT-X-TARGETDURATION must be >= every EXTINF
// rounded to the nearest integer.
func targetDurationSeconds(d time.Duration) uint {
	return uint(math.Round(d.Seconds()))
}

// Render produces the LL-HLS rendition-playlist text for pl. The tag set
// and ordering follow muxerVariantFMP4Playlist.fullPlaylist: EXTM3U,
// VERSION, TARGETDURATION, SERVER-CONTROL, PART-INF, MEDIA-SEQUENCE, MAP,
// then one EXTINF/EXT-X-PART run per segment, closing with the next
// preload hint. DVR placeholders and spec.md's own RENDITION-REPORT /
// DISCONTINUITY / ENDLIST tags are layered on top of that base shape.
func Render(pl *RenditionPlaylist, cfg RenderConfig) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:9\n")

	td := targetDurationSeconds(cfg.TargetSegmentDuration)
	b.WriteString("#EXT-X-TARGETDURATION:" + strconv.FormatUint(uint64(td), 10) + "\n")

	if !pl.Finished {
		holdBack := cfg.HoldBackSeconds
		if holdBack <= 0 {
			holdBack = cfg.TargetPartDuration.Seconds() * 2.5
		}
		b.WriteString("#EXT-X-SERVER-CONTROL:CAN-BLOCK-RELOAD=YES,PART-HOLD-BACK=" +
			strconv.FormatFloat(holdBack, 'f', 5, 64) + "\n")
		b.WriteString("#EXT-X-PART-INF:PART-TARGET=" +
			strconv.FormatFloat(cfg.TargetPartDuration.Seconds(), 'f', -1, 64) + "\n")
	}

	b.WriteString("#EXT-X-MEDIA-SEQUENCE:" + strconv.FormatUint(uint64(pl.MSN), 10) + "\n")

	if pl.InitDVR {
		b.WriteString("#EXT-X-MAP:URI=\"" + pl.DVRPrefix + "init.mp4\"\n")
	} else {
		b.WriteString("#EXT-X-MAP:URI=\"" + pl.InitSegmentID + "\"\n")
	}
	b.WriteString("\n")

	lastIdx := int64(-1)
	for i, seg := range pl.Segments {
		if seg.ID == nil && seg.StartTime == nil {
			b.WriteString("#EXT-X-GAP\n#EXTINF:0.00000,\ngap.mp4\n")
			lastIdx = int64(seg.Idx)
			continue
		}

		if lastIdx >= 0 && int64(seg.Idx) != lastIdx+1 {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		lastIdx = int64(seg.Idx)

		duration := *seg.EndTime - *seg.StartTime

		for _, p := range seg.Parts {
			b.WriteString("#EXT-X-PART:DURATION=" + strconv.FormatFloat(p.Duration, 'f', 5, 64) +
				",URI=\"" + p.ID + "\"")
			if p.Independent {
				b.WriteString(",INDEPENDENT=YES")
			}
			b.WriteString("\n")
		}

		uri := seg.DVRTag
		if uri == "" && seg.ID != nil {
			uri = *seg.ID
		}
		b.WriteString("#EXTINF:" + strconv.FormatFloat(duration, 'f', 5, 64) + ",\n" + uri + "\n")
	}

	if !pl.Finished {
		for _, id := range pl.PreFetchPartIDs {
			b.WriteString("#EXT-X-PRELOAD-HINT:TYPE=PART,URI=\"" + id + "\"\n")
		}
		for _, r := range pl.Renditions {
			b.WriteString(fmt.Sprintf("#EXT-X-RENDITION-REPORT:URI=\"../%s/index.m3u8\",LAST-MSN=%d,LAST-PART=%d\n",
				r.Name, r.LastSegmentIdx, r.LastSegmentPartIdx))
		}
	} else {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	return b.String()
}

package edge

import (
	"fmt"
	"sort"
	"strings"

	m3u8 "github.com/livepeer/m3u8"
)

// RenditionVariant is one rendition's entry in the master playlist.
type RenditionVariant struct {
	Name       string
	URL        string
	Bandwidth  uint32
	Codecs     string
	Resolution string
	AudioCodec string // groups renditions for the proprietary EXT-X-SCUF-GROUP tag
}

// BuildMaster renders a master playlist: EXT-X-STREAM-INF scaffolding comes
// from livepeer/m3u8's own variant-list writer (the teacher's dependency for
// this), with the proprietary EXT-X-SCUF-GROUP tag hand-appended afterward
// since that library predates it. No EXT-X-MEDIA entries are written.
func BuildMaster(variants []RenditionVariant) (string, error) {
	pl := m3u8.NewMasterPlaylist()

	groups := map[string][]string{}
	for _, v := range variants {
		pl.Append(v.URL, nil, m3u8.VariantParams{
			Bandwidth:  v.Bandwidth,
			Codecs:     v.Codecs,
			Resolution: v.Resolution,
			Name:       v.Name,
		})
		groups[v.AudioCodec] = append(groups[v.AudioCodec], v.Name)
	}

	body := pl.Encode().String()

	var codecs []string
	for codec := range groups {
		codecs = append(codecs, codec)
	}
	sort.Strings(codecs)

	var extra strings.Builder
	for _, codec := range codecs {
		names := groups[codec]
		sort.Strings(names)
		extra.WriteString(fmt.Sprintf("#EXT-X-SCUF-GROUP:CODEC=%q,RENDITIONS=%q\n", codec, strings.Join(names, ",")))
	}

	return body + extra.String(), nil
}

package bot

// DefaultResolutions is the resolution preference order, best first.
var DefaultResolutions = []int{1080, 720, 480, 360, 240}

// Normalize picks, for every height in resolutions (in that order), the video
// variant with the highest declared bitrate; the first variant wins ties.
// Heights missing from the catalog are skipped. It also returns the first
// audio-only variant encountered, so the pick depends on catalog order.
func Normalize(variants []StreamVariant, resolutions []int) (videos []StreamVariant, audio StreamVariant, hasAudio bool) {
	best := make(map[int]StreamVariant)
	for _, v := range variants {
		if !v.HasVideo {
			if v.HasAudio && !hasAudio {
				audio, hasAudio = v, true
			}
			continue
		}
		cur, ok := best[v.Height]
		if !ok || v.Bitrate > cur.Bitrate {
			best[v.Height] = v
		}
	}

	seen := make(map[int]bool, len(resolutions))
	for _, h := range resolutions {
		if seen[h] {
			continue
		}
		seen[h] = true
		if v, ok := best[h]; ok {
			videos = append(videos, v)
		}
	}
	return videos, audio, hasAudio
}

// EstimateSize returns the approximate payload size of a video variant,
// paired with audio when the video carries none. Undeclared sizes count as
// zero, so the estimate can fall short of the real size but never probes.
func EstimateSize(video StreamVariant, audio *StreamVariant) int64 {
	size := video.Size
	if audio != nil {
		size += audio.Size
	}
	return size
}

// BuildOffers turns normalized variants into ranked offers. Video variants
// without audio are paired with the catalog's audio variant when one exists.
func BuildOffers(videos []StreamVariant, audio StreamVariant, hasAudio bool) []Offer {
	offers := make([]Offer, 0, len(videos))
	for _, v := range videos {
		o := Offer{Height: v.Height, VideoID: v.ID, Ext: v.Ext}
		if !v.HasAudio && hasAudio {
			o.AudioID = audio.ID
			o.Size = EstimateSize(v, &audio)
		} else {
			o.Size = EstimateSize(v, nil)
		}
		offers = append(offers, o)
	}
	return offers
}

// Admit keeps the offers whose estimate is at or below ceiling, preserving
// order, and numbers them from 1. Oversized offers are dropped.
func Admit(offers []Offer, ceiling int64) []Offer {
	admitted := make([]Offer, 0, len(offers))
	for _, o := range offers {
		if o.Size > ceiling {
			continue
		}
		o.Token = len(admitted) + 1
		admitted = append(admitted, o)
	}
	return admitted
}

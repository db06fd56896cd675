// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

// Package colors provides deterministic guild colors and the RGB/HSL
// conversions used by ownership-change animations.
package colors

import (
	"hash/crc32"
	"math"

	"github.com/SequoiaWynncraft/sequoia-map/internal/models"
)

// GuildColor derives a stable display color from a guild name via CRC32.
// The first three bytes of the big-endian hash become the RGB channels, so
// the same guild renders identically on every client.
func GuildColor(name string) models.RGB {
	hash := crc32.ChecksumIEEE([]byte(name))
	return models.RGB{
		uint8(hash >> 24),
		uint8(hash >> 16),
		uint8(hash >> 8),
	}
}

// RGBToHSL converts 8-bit RGB channels to HSL with h in [0,360) and s, l in
// [0,1].
func RGBToHSL(r, g, b uint8) (h, s, l float64) {
	rf := float64(r) / 255.0
	gf := float64(g) / 255.0
	bf := float64(b) / 255.0

	maxC := math.Max(rf, math.Max(gf, bf))
	minC := math.Min(rf, math.Min(gf, bf))
	l = (maxC + minC) / 2.0

	if math.Abs(maxC-minC) < epsilon {
		return 0, 0, l
	}

	d := maxC - minC
	if l > 0.5 {
		s = d / (2.0 - maxC - minC)
	} else {
		s = d / (maxC + minC)
	}

	switch {
	case math.Abs(maxC-rf) < epsilon:
		h = (gf - bf) / d
		if gf < bf {
			h += 6.0
		}
	case math.Abs(maxC-gf) < epsilon:
		h = (bf-rf)/d + 2.0
	default:
		h = (rf-gf)/d + 4.0
	}

	return h * 60.0, s, l
}

// HSLToRGB converts HSL back to 8-bit RGB channels. Composed with RGBToHSL it
// is the identity within one ULP per channel.
func HSLToRGB(h, s, l float64) (r, g, b uint8) {
	if math.Abs(s) < epsilon {
		v := uint8(math.Round(l * 255.0))
		return v, v, v
	}

	var q float64
	if l < 0.5 {
		q = l * (1.0 + s)
	} else {
		q = l + s - l*s
	}
	p := 2.0*l - q
	hn := h / 360.0

	return uint8(math.Round(hueToRGB(p, q, hn+1.0/3.0) * 255.0)),
		uint8(math.Round(hueToRGB(p, q, hn) * 255.0)),
		uint8(math.Round(hueToRGB(p, q, hn-1.0/3.0) * 255.0))
}

// InterpolateHSL blends two HSL colors at parameter t, taking the shortest
// path around the hue circle.
func InterpolateHSL(fromH, fromS, fromL, toH, toS, toL, t float64) (h, s, l float64) {
	dh := toH - fromH
	if dh > 180.0 {
		dh -= 360.0
	} else if dh < -180.0 {
		dh += 360.0
	}

	h = math.Mod(fromH+dh*t, 360.0)
	if h < 0 {
		h += 360.0
	}
	s = fromS + (toS-fromS)*t
	l = fromL + (toL-fromL)*t
	return h, s, l
}

const epsilon = 2.220446049250313e-16 // math.Nextafter(1, 2) - 1

func hueToRGB(p, q, t float64) float64 {
	if t < 0.0 {
		t += 1.0
	}
	if t > 1.0 {
		t -= 1.0
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6.0*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6.0
	default:
		return p
	}
}

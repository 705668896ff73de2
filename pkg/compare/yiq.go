package compare

// Colour distance in YIQ space, after "Measuring perceived color difference
// using YIQ NTSC transmission color space in mobile applications" (Kotsarenko
// and Ramos, 2010). Semi-transparent pixels are blended over white first.

// colorDelta returns the squared YIQ distance between the pixels at k and m.
// The sign tells which pixel is brighter; with yOnly only the luma difference
// is returned.
func colorDelta(img1, img2 []uint8, k, m int, yOnly bool) float64 {
	r1, g1, b1, a1 := float64(img1[k]), float64(img1[k+1]), float64(img1[k+2]), float64(img1[k+3])
	r2, g2, b2, a2 := float64(img2[m]), float64(img2[m+1]), float64(img2[m+2]), float64(img2[m+3])

	if a1 == a2 && r1 == r2 && g1 == g2 && b1 == b2 {
		return 0
	}

	if a1 < 255 {
		a1 /= 255
		r1 = blend(r1, a1)
		g1 = blend(g1, a1)
		b1 = blend(b1, a1)
	}
	if a2 < 255 {
		a2 /= 255
		r2 = blend(r2, a2)
		g2 = blend(g2, a2)
		b2 = blend(b2, a2)
	}

	y1 := rgb2y(r1, g1, b1)
	y2 := rgb2y(r2, g2, b2)
	y := y1 - y2

	if yOnly {
		return y
	}

	i := rgb2i(r1, g1, b1) - rgb2i(r2, g2, b2)
	q := rgb2q(r1, g1, b1) - rgb2q(r2, g2, b2)

	delta := 0.5053*y*y + 0.299*i*i + 0.1957*q*q
	if y1 > y2 {
		return -delta
	}
	return delta
}

func rgb2y(r, g, b float64) float64 { return r*0.29889531 + g*0.58662247 + b*0.11448223 }
func rgb2i(r, g, b float64) float64 { return r*0.59597799 - g*0.27417610 - b*0.32180189 }
func rgb2q(r, g, b float64) float64 { return r*0.21147017 - g*0.52261711 + b*0.31114694 }

// blend composites channel c with opacity a over white.
func blend(c, a float64) float64 {
	return 255 + (c-255)*a
}

// antialiased reports whether the pixel at (x1, y1) of img looks like part of
// an anti-aliased edge: it has both darker and brighter neighbours, and the
// extremes sit in flat regions in both images.
func antialiased(img []uint8, x1, y1, w, h int, img2 []uint8) bool {
	x0 := maxInt(x1-1, 0)
	y0 := maxInt(y1-1, 0)
	x2 := minInt(x1+1, w-1)
	y2 := minInt(y1+1, h-1)
	pos := (y1*w + x1) * 4

	zeroes := 0
	if x1 == x0 || x1 == x2 || y1 == y0 || y1 == y2 {
		zeroes = 1
	}
	var min, max float64
	var minX, minY, maxX, maxY int

	for x := x0; x <= x2; x++ {
		for y := y0; y <= y2; y++ {
			if x == x1 && y == y1 {
				continue
			}
			delta := colorDelta(img, img, pos, (y*w+x)*4, true)
			if delta == 0 {
				zeroes++
				// More than two identical neighbours: not an edge.
				if zeroes > 2 {
					return false
				}
			} else if delta < min {
				min = delta
				minX, minY = x, y
			} else if delta > max {
				max = delta
				maxX, maxY = x, y
			}
		}
	}

	if min == 0 || max == 0 {
		return false
	}

	return (hasManySiblings(img, minX, minY, w, h) && hasManySiblings(img2, minX, minY, w, h)) ||
		(hasManySiblings(img, maxX, maxY, w, h) && hasManySiblings(img2, maxX, maxY, w, h))
}

// hasManySiblings reports whether the pixel at (x1, y1) has more than two
// neighbours of exactly the same colour.
func hasManySiblings(img []uint8, x1, y1, w, h int) bool {
	x0 := maxInt(x1-1, 0)
	y0 := maxInt(y1-1, 0)
	x2 := minInt(x1+1, w-1)
	y2 := minInt(y1+1, h-1)
	pos := (y1*w + x1) * 4

	zeroes := 0
	if x1 == x0 || x1 == x2 || y1 == y0 || y1 == y2 {
		zeroes = 1
	}

	for x := x0; x <= x2; x++ {
		for y := y0; y <= y2; y++ {
			if x == x1 && y == y1 {
				continue
			}
			pos2 := (y*w + x) * 4
			if img[pos] == img[pos2] &&
				img[pos+1] == img[pos2+1] &&
				img[pos+2] == img[pos2+2] &&
				img[pos+3] == img[pos2+3] {
				zeroes++
			}
			if zeroes > 2 {
				return true
			}
		}
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

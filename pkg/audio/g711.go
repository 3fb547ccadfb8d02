package audio

// G.711 µ-law and A-law companding. Encoders operate sample-by-sample on
// int16 linear PCM; decoders use 256-entry lookup tables built at init so the
// per-frame hot path is a single indexed load per sample.

const (
	ulawBias = 0x84
	ulawClip = 32635
	alawClip = 32635
)

var (
	ulawDecodeTable [256]int16
	alawDecodeTable [256]int16
)

func init() {
	for i := range 256 {
		ulawDecodeTable[i] = ulawDecodeSample(byte(i))
		alawDecodeTable[i] = alawDecodeSample(byte(i))
	}
}

// ulawEncodeSample compands one linear PCM sample to µ-law.
func ulawEncodeSample(s int16) byte {
	sign := byte(0)
	v := int32(s)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias

	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && v&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(v>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// ulawDecodeSample expands one µ-law byte to linear PCM.
func ulawDecodeSample(b byte) int16 {
	b = ^b
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	v := (int32(mantissa)<<3 + ulawBias) << exponent
	v -= ulawBias
	if b&0x80 != 0 {
		return int16(-v)
	}
	return int16(v)
}

// alawEncodeSample compands one linear PCM sample to A-law.
func alawEncodeSample(s int16) byte {
	sign := byte(0x80)
	v := int32(s)
	if v < 0 {
		v = -v - 1
		sign = 0
	}
	if v > alawClip {
		v = alawClip
	}

	var out byte
	if v < 256 {
		out = byte(v >> 4)
	} else {
		exponent := byte(7)
		for mask := int32(0x4000); exponent > 0 && v&mask == 0; mask >>= 1 {
			exponent--
		}
		mantissa := byte(v>>(exponent+3)) & 0x0F
		out = exponent<<4 | mantissa
	}
	return (out | sign) ^ 0x55
}

// alawDecodeSample expands one A-law byte to linear PCM.
func alawDecodeSample(b byte) int16 {
	b ^= 0x55
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := int32(b & 0x0F)

	var v int32
	if exponent == 0 {
		v = mantissa<<4 + 8
	} else {
		v = (mantissa<<4 + 0x108) << (exponent - 1)
	}
	// A set sign bit marks a positive sample, mirroring the encoder.
	if sign != 0 {
		return int16(v)
	}
	return int16(-v)
}

// ULawEncode compands little-endian int16 PCM to µ-law, one byte per sample.
func ULawEncode(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = ulawEncodeSample(s)
	}
	return out
}

// ULawDecode expands µ-law bytes to little-endian int16 PCM.
func ULawDecode(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*2)
	for i, b := range ulaw {
		s := ulawDecodeTable[b]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// ALawEncode compands little-endian int16 PCM to A-law, one byte per sample.
func ALawEncode(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = alawEncodeSample(s)
	}
	return out
}

// ALawDecode expands A-law bytes to little-endian int16 PCM.
func ALawDecode(alaw []byte) []byte {
	out := make([]byte, len(alaw)*2)
	for i, b := range alaw {
		s := alawDecodeTable[b]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

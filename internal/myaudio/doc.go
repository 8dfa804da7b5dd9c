// Package myaudio provides the audio sources feeding the analyzer: live
// capture through malgo and WAV/FLAC file replay. Every source hands out
// mono float64 blocks normalized to [-1, 1].
package myaudio

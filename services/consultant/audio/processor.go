// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audio runs the ingest pipeline for uploaded consultation
// recordings: transcription, summarization, and duration probing.
package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/ConsultAudio/services/consultant/datatypes"
	"github.com/AleutianAI/ConsultAudio/services/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("consultaudio.audio")

const summarySystemPrompt = "You are a helpful assistant that creates concise, " +
	"informative summaries of transcribed audio content. Focus on the key points, " +
	"main topics, and important details."

const (
	summaryTemperature float32 = 0.3
	summaryMaxTokens           = 500

	defaultStageTimeout = 60 * time.Second
)

// Processor turns an audio file on disk into a transcript and a summary.
type Processor struct {
	transcriber llm.Transcriber
	client      llm.LLMClient
	timeout     time.Duration
}

// NewProcessor creates a Processor backed by the given transcriber and
// chat client. In practice both are the same OpenAI client. timeout
// bounds each pipeline stage; values <= 0 select the 60s default.
func NewProcessor(transcriber llm.Transcriber, client llm.LLMClient, timeout time.Duration) *Processor {
	if timeout <= 0 {
		timeout = defaultStageTimeout
	}
	return &Processor{transcriber: transcriber, client: client, timeout: timeout}
}

// Process transcribes the file at path and summarizes the transcript.
// Failures carry the pipeline stage that produced them.
func (p *Processor) Process(ctx context.Context, path string) (transcript, summary string, err error) {
	ctx, span := tracer.Start(ctx, "Processor.Process")
	defer span.End()
	span.SetAttributes(attribute.String("filename", filepath.Base(path)))

	transcribeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	transcript, err = p.transcriber.Transcribe(transcribeCtx, path)
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
		return "", "", &datatypes.ProcessingError{Stage: "transcribe", Err: err}
	}
	if strings.TrimSpace(transcript) == "" {
		err = fmt.Errorf("transcription produced no text")
		span.RecordError(err)
		return "", "", &datatypes.ProcessingError{Stage: "transcribe", Err: err}
	}

	summary, err = p.Summarize(ctx, transcript)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "summarization failed")
		return "", "", err
	}

	slog.Info("Processed audio file",
		"filename", filepath.Base(path),
		"transcript_chars", len(transcript),
		"summary_chars", len(summary))
	return transcript, summary, nil
}

// Summarize condenses a transcript into a retrieval-friendly summary.
func (p *Processor) Summarize(ctx context.Context, transcript string) (string, error) {
	ctx, span := tracer.Start(ctx, "Processor.Summarize")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	temperature := summaryTemperature
	maxTokens := summaryMaxTokens
	result, err := p.client.Chat(ctx, []llm.Message{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: "Please provide a comprehensive summary of the " +
			"following transcribed audio content:\n\n" + transcript},
	}, llm.GenerationParams{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		span.RecordError(err)
		return "", &datatypes.ProcessingError{Stage: "summarize", Err: err}
	}
	summary := strings.TrimSpace(result.Content)
	if summary == "" {
		err = fmt.Errorf("model returned an empty summary")
		span.RecordError(err)
		return "", &datatypes.ProcessingError{Stage: "summarize", Err: err}
	}
	return summary, nil
}

// Duration probes the file at path and returns its length as zero-padded
// MM:SS. Only WAV headers are parsed; anything else, and any malformed
// header, yields "00:00" rather than an error since duration is cosmetic
// metadata.
func Duration(path string) string {
	seconds, err := wavDurationSeconds(path)
	if err != nil {
		slog.Debug("Could not probe audio duration", "filename", filepath.Base(path), "error", err)
		return "00:00"
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// wavDurationSeconds walks the RIFF chunk list for the fmt byte rate and
// the data chunk size.
func wavDurationSeconds(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0, err
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, fmt.Errorf("not a RIFF/WAVE file")
	}

	var byteRate, dataSize uint32
	chunk := make([]byte, 8)
	for {
		if _, err := io.ReadFull(f, chunk); err != nil {
			break
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])
		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(f, body); err != nil {
				return 0, err
			}
			if size >= 12 {
				byteRate = binary.LittleEndian.Uint32(body[8:12])
			}
		case "data":
			dataSize = size
			// Skip past the payload in case fmt follows data
			if _, err := f.Seek(int64(size), io.SeekCurrent); err != nil {
				return 0, err
			}
		default:
			if _, err := f.Seek(int64(size), io.SeekCurrent); err != nil {
				return 0, err
			}
		}
		if byteRate != 0 && dataSize != 0 {
			break
		}
		// Chunks are word-aligned
		if size%2 == 1 {
			if _, err := f.Seek(1, io.SeekCurrent); err != nil {
				break
			}
		}
	}
	if byteRate == 0 || dataSize == 0 {
		return 0, fmt.Errorf("missing fmt or data chunk")
	}
	return int(dataSize / byteRate), nil
}

// Copyright 2026 The Railclerk Authors
// SPDX-License-Identifier: Apache-2.0

package captcha

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"
)

// Manual asks a human. The image is written to ImageDir and the path
// is printed to Output; the answer is read as one line from Input.
type Manual struct {
	ImageDir string

	// Input defaults to os.Stdin, Output to os.Stderr.
	Input  io.Reader
	Output io.Writer
}

// Solve implements Solver. Without a terminal on Input, or when the
// human enters an empty line, it has no answer.
func (m *Manual) Solve(ctx context.Context, image []byte) (string, bool, error) {
	input := m.Input
	if input == nil {
		input = os.Stdin
	}
	output := m.Output
	if output == nil {
		output = os.Stderr
	}
	if file, ok := input.(*os.File); ok && !term.IsTerminal(int(file.Fd())) {
		return "", false, nil
	}

	path, err := m.saveImage(image)
	if err != nil {
		return "", false, err
	}
	fmt.Fprintf(output, "Captcha image saved to %s\n", path)
	fmt.Fprint(output, "Captcha answer: ")

	type line struct {
		text string
		err  error
	}
	lines := make(chan line, 1)
	go func() {
		text, err := bufio.NewReader(input).ReadString('\n')
		lines <- line{text, err}
	}()

	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case got := <-lines:
		if got.err != nil && got.err != io.EOF {
			return "", false, fmt.Errorf("captcha: reading answer: %w", got.err)
		}
		answer := strings.TrimSpace(got.text)
		return answer, answer != "", nil
	}
}

func (m *Manual) saveImage(image []byte) (string, error) {
	dir := m.ImageDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("captcha: creating image directory: %w", err)
	}
	extension := ".png"
	if http.DetectContentType(image) == "image/jpeg" {
		extension = ".jpg"
	}
	file, err := os.CreateTemp(dir, "captcha-*"+extension)
	if err != nil {
		return "", fmt.Errorf("captcha: creating image file: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(image); err != nil {
		return "", fmt.Errorf("captcha: writing image: %w", err)
	}
	return filepath.Clean(file.Name()), nil
}

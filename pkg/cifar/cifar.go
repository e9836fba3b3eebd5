// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cifar reads the CIFAR-10 binary batch files and turns them into GoMLX tensors and datasets.
//
// Information about the dataset in https://www.cs.toronto.edu/~kriz/cifar.html
package cifar

import (
	"bufio"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/squeezebench/internal/downloader"
	"github.com/gomlx/squeezebench/internal/workerspool"
	"github.com/pkg/errors"
)

const (
	C10Url     = "https://www.cs.toronto.edu/~kriz/cifar-10-binary.tar.gz"
	C10TarName = "cifar-10-binary.tar.gz"
	C10SubDir  = "cifar-10-batches-bin"

	// C10ExamplesPerFile is the number of examples in each of the official batch files.
	C10ExamplesPerFile = 10000
)

// Width, Height and Depth are the dimensions of the images.
const (
	Width  int = 32
	Height int = 32
	Depth  int = 3
)

// ImageSizeBytes is the number of pixel bytes of one example.
const ImageSizeBytes = Height * Width * Depth

// recordSizeBytes is one label byte followed by the image.
const recordSizeBytes = ImageSizeBytes + 1

var C10Labels = []string{"airplane", "automobile", "bird", "cat", "deer", "dog", "frog", "horse", "ship", "truck"}

// Download the CIFAR-10 binary archive into baseDir and extract it, if not there yet.
func Download(baseDir string) error {
	return downloader.DownloadAndUntarIfMissing(C10Url, baseDir, C10TarName, C10SubDir,
		"c4a38c50a1bc5f3a1c5537f2155ab9d68f9f25eb1ed8d9ddda3db29a59bca1dd")
}

// Batch holds raw examples read from one or more batch files.
//
// Pixels are stored as in the file: for each example, the red plane, then green, then blue,
// each plane Height x Width in row-major order.
type Batch struct {
	Labels []uint8
	Pixels []uint8
}

// NumExamples in the batch.
func (b *Batch) NumExamples() int { return len(b.Labels) }

// Image returns the raw pixels of example idx.
func (b *Batch) Image(idx int) []uint8 {
	return b.Pixels[idx*ImageSizeBytes : (idx+1)*ImageSizeBytes]
}

// Take returns a batch with only the first n examples. It shares the underlying storage.
// If n <= 0 or larger than the batch, the batch itself is returned.
func (b *Batch) Take(n int) *Batch {
	if n <= 0 || n >= b.NumExamples() {
		return b
	}
	return &Batch{Labels: b.Labels[:n], Pixels: b.Pixels[:n*ImageSizeBytes]}
}

// ReadBatch reads CIFAR-10 binary records until EOF.
func ReadBatch(r io.Reader) (*Batch, error) {
	batch := &Batch{
		Labels: make([]uint8, 0, C10ExamplesPerFile),
		Pixels: make([]uint8, 0, C10ExamplesPerFile*ImageSizeBytes),
	}
	var record [recordSizeBytes]byte
	br := bufio.NewReader(r)
	for exampleIdx := 0; ; exampleIdx++ {
		n, err := io.ReadFull(br, record[:])
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			return nil, errors.Errorf("truncated record #%d: read only %d bytes, wanted %d",
				exampleIdx, n, recordSizeBytes)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading record #%d", exampleIdx)
		}
		if int(record[0]) >= len(C10Labels) {
			return nil, errors.Errorf("record #%d has invalid label %d", exampleIdx, record[0])
		}
		batch.Labels = append(batch.Labels, record[0])
		batch.Pixels = append(batch.Pixels, record[1:]...)
	}
	if batch.NumExamples() == 0 {
		return nil, errors.New("no examples found")
	}
	return batch, nil
}

// ReadBatchFile reads one CIFAR-10 binary batch file (e.g. "data_batch_1.bin").
func ReadBatchFile(filePath string) (*Batch, error) {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening data file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	batch, err := ReadBatch(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading data file %q", filePath)
	}
	return batch, nil
}

// ReadBatchFiles reads and concatenates the given batch files, in order.
// Files are read concurrently, up to the number of CPUs.
func ReadBatchFiles(filePaths ...string) (*Batch, error) {
	if len(filePaths) == 0 {
		return nil, errors.New("no CIFAR-10 batch files given")
	}
	batches := make([]*Batch, len(filePaths))
	errs := make([]error, len(filePaths))
	pool := workerspool.New(min(len(filePaths), runtime.NumCPU()))
	for ii, filePath := range filePaths {
		pool.Go(func() {
			batches[ii], errs[ii] = ReadBatchFile(filePath)
		})
	}
	pool.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	if len(batches) == 1 {
		return batches[0], nil
	}
	all := &Batch{}
	for _, batch := range batches {
		all.Labels = append(all.Labels, batch.Labels...)
		all.Pixels = append(all.Pixels, batch.Pixels...)
	}
	return all, nil
}

// SplitFileList splits a comma-separated list of files, dropping empty entries.
func SplitFileList(list string) []string {
	var files []string
	for _, f := range strings.Split(list, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			files = append(files, f)
		}
	}
	return files
}

package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/blockberries/ckptberry/logger"
)

const (
	walFilePerm       = 0600
	walDirPerm        = 0700
	maxMsgSize        = 10 * 1024 * 1024
	defaultBufSize    = 64 * 1024
	defaultMaxSegSize = 64 * 1024 * 1024

	defaultPoolBufSize = 4096
)

// decoderPool recycles read buffers; decoded messages get their own copy.
var decoderPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 0, defaultPoolBufSize)
		return &buf
	},
}

// FileWAL is a segmented file WAL.
type FileWAL struct {
	mu   sync.Mutex
	dir  string
	file *os.File
	buf  *bufio.Writer
	enc  *encoder

	started      bool
	minIndex     int
	segmentIndex int
	segmentSize  int64
	maxSegSize   int64

	// checkpoint height -> segment holding its commit entry
	commitIndex map[uint64]int

	log *zap.Logger
}

// NewFileWAL creates a WAL in dir with the default segment size.
func NewFileWAL(dir string) (*FileWAL, error) {
	return NewFileWALWithOptions(dir, defaultMaxSegSize)
}

// NewFileWALWithOptions creates a WAL whose segments are closed once they
// reach maxSegSize bytes.
func NewFileWALWithOptions(dir string, maxSegSize int64) (*FileWAL, error) {
	if err := os.MkdirAll(dir, walDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}
	if maxSegSize <= 0 {
		maxSegSize = defaultMaxSegSize
	}
	return &FileWAL{
		dir:        dir,
		maxSegSize: maxSegSize,
		log:        logger.Named("wal"),
	}, nil
}

// Start opens the newest segment for appending.
func (w *FileWAL) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}

	w.commitIndex = make(map[uint64]int)
	segments := findSegments(w.dir)
	if len(segments) > 0 {
		w.minIndex = segments[0]
		w.segmentIndex = segments[len(segments)-1]
	}
	w.buildIndex(segments)

	if err := w.openSegment(w.segmentIndex); err != nil {
		return err
	}
	w.started = true
	w.log.Info("WAL started", zap.String("dir", w.dir),
		zap.Int("segments", len(segments)), zap.Int("commits", len(w.commitIndex)))
	return nil
}

// buildIndex records the segment of every commit entry. Indexing of a
// segment stops at its first unreadable entry.
func (w *FileWAL) buildIndex(segments []int) {
	for _, idx := range segments {
		file, err := os.Open(w.segmentPath(idx))
		if err != nil {
			continue
		}
		dec := newDecoder(bufio.NewReader(file))
		for {
			msg, err := dec.Decode()
			if err != nil {
				if err != io.EOF {
					w.log.Warn("stopped indexing segment", zap.Int("segment", idx), zap.Error(err))
				}
				break
			}
			if msg.Type == MsgTypeCommit {
				w.commitIndex[msg.Height] = idx
			}
		}
		file.Close()
	}
}

func (w *FileWAL) segmentPath(index int) string {
	return segmentPath(w.dir, index)
}

func segmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("wal-%05d", index))
}

func (w *FileWAL) openSegment(index int) error {
	file, err := os.OpenFile(w.segmentPath(index), os.O_RDWR|os.O_CREATE|os.O_APPEND, walFilePerm)
	if err != nil {
		return fmt.Errorf("failed to open WAL segment %d: %w", index, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat WAL segment: %w", err)
	}

	w.file = file
	w.buf = bufio.NewWriterSize(file, defaultBufSize)
	w.enc = newEncoder(w.buf)
	w.segmentSize = info.Size()
	return nil
}

// Stop flushes, syncs and closes the current segment.
func (w *FileWAL) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return nil
	}
	w.started = false

	if err := w.buf.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

// Write appends msg to the buffer.
func (w *FileWAL) Write(msg *Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.write(msg)
}

// WriteSync appends msg and syncs the segment.
func (w *FileWAL) WriteSync(msg *Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.write(msg); err != nil {
		return err
	}
	return w.flushAndSync()
}

func (w *FileWAL) write(msg *Message) error {
	if !w.started {
		return ErrWALClosed
	}
	if w.segmentSize >= w.maxSegSize {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("failed to rotate WAL: %w", err)
		}
	}

	n, err := w.enc.Encode(msg)
	if err != nil {
		return err
	}
	w.segmentSize += int64(n)

	if msg.Type == MsgTypeCommit {
		w.commitIndex[msg.Height] = w.segmentIndex
	}
	return nil
}

func (w *FileWAL) rotate() error {
	if err := w.flushAndSync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	w.segmentIndex++
	w.log.Debug("rotated WAL segment", zap.Int("segment", w.segmentIndex))
	return w.openSegment(w.segmentIndex)
}

// FlushAndSync flushes the buffer and syncs to disk.
func (w *FileWAL) FlushAndSync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return ErrWALClosed
	}
	return w.flushAndSync()
}

func (w *FileWAL) flushAndSync() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// SearchForCommit implements WAL. The index is tried first and every
// segment is scanned when it is stale.
func (w *FileWAL) SearchForCommit(height uint64) (Reader, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return nil, false, ErrWALClosed
	}
	if err := w.buf.Flush(); err != nil {
		return nil, false, err
	}

	if segIdx, ok := w.commitIndex[height]; ok {
		reader, found, err := w.searchSegment(segIdx, height)
		if err != nil || found {
			return reader, found, err
		}
	}
	for idx := w.minIndex; idx <= w.segmentIndex; idx++ {
		reader, found, err := w.searchSegment(idx, height)
		if err != nil {
			return nil, false, err
		}
		if found {
			w.commitIndex[height] = idx
			return reader, true, nil
		}
	}
	return nil, false, nil
}

// searchSegment returns a reader over segmentIndex positioned after the
// commit of height. The reader continues into later segments.
func (w *FileWAL) searchSegment(segmentIndex int, height uint64) (Reader, bool, error) {
	var rest []int
	for _, idx := range findSegments(w.dir) {
		if idx >= segmentIndex {
			rest = append(rest, idx)
		}
	}
	if len(rest) == 0 || rest[0] != segmentIndex {
		return nil, false, nil
	}
	reader := &multiSegmentReader{dir: w.dir, segments: rest, current: -1}
	for {
		msg, err := reader.readSegment(segmentIndex)
		if err == io.EOF {
			reader.Close()
			return nil, false, nil
		}
		if err != nil {
			reader.Close()
			return nil, false, err
		}
		if msg.Type == MsgTypeCommit && msg.Height == height {
			return reader, true, nil
		}
	}
}

// Prune deletes closed segments whose entries all belong to heights up to
// and including height.
func (w *FileWAL) Prune(height uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return ErrWALClosed
	}

	var prunable []int
	for idx := w.minIndex; idx < w.segmentIndex; idx++ {
		ok, err := w.canDeleteSegment(idx, height)
		if err != nil || !ok {
			break
		}
		prunable = append(prunable, idx)
	}

	for _, idx := range prunable {
		if err := os.Remove(w.segmentPath(idx)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete segment %d: %w", idx, err)
		}
		for h, segIdx := range w.commitIndex {
			if segIdx == idx {
				delete(w.commitIndex, h)
			}
		}
	}
	if len(prunable) > 0 {
		w.minIndex = prunable[len(prunable)-1] + 1
		w.log.Info("pruned WAL", zap.Uint64("height", height), zap.Int("segments", len(prunable)))
	}
	return nil
}

func (w *FileWAL) canDeleteSegment(segmentIndex int, height uint64) (bool, error) {
	file, err := os.Open(w.segmentPath(segmentIndex))
	if err != nil {
		return false, err
	}
	defer file.Close()

	dec := newDecoder(bufio.NewReader(file))
	for {
		msg, err := dec.Decode()
		if err == io.EOF {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if msg.Height > height {
			return false, nil
		}
	}
}

// SegmentCount returns the number of live segments.
func (w *FileWAL) SegmentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segmentIndex - w.minIndex + 1
}

// CurrentSegmentSize returns the size of the segment being appended to.
func (w *FileWAL) CurrentSegmentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segmentSize
}

var _ WAL = (*FileWAL)(nil)

type encoder struct {
	w   io.Writer
	buf []byte
}

func newEncoder(w io.Writer) *encoder {
	return &encoder{w: w, buf: make([]byte, 4)}
}

// Encode writes one framed entry and returns its size.
func (e *encoder) Encode(msg *Message) (int, error) {
	data, err := encodeMessage(msg)
	if err != nil {
		return 0, err
	}
	if len(data) > maxMsgSize {
		return 0, fmt.Errorf("WAL message of %d bytes exceeds %d", len(data), maxMsgSize)
	}

	binary.BigEndian.PutUint32(e.buf, uint32(len(data)))
	if _, err := e.w.Write(e.buf); err != nil {
		return 0, err
	}
	if _, err := e.w.Write(data); err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint32(e.buf, crc32.ChecksumIEEE(data))
	if _, err := e.w.Write(e.buf); err != nil {
		return 0, err
	}
	return 4 + len(data) + 4, nil
}

type decoder struct {
	r   io.Reader
	buf []byte
}

func newDecoder(r io.Reader) *decoder {
	return &decoder{r: r, buf: make([]byte, 4)}
}

// Decode reads one entry. A truncated entry at the end of a segment is
// reported as io.ErrUnexpectedEOF, a checksum failure as ErrWALCorrupted.
func (d *decoder) Decode() (*Message, error) {
	if _, err := io.ReadFull(d.r, d.buf); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(d.buf)
	if length > maxMsgSize {
		return nil, fmt.Errorf("%w: entry length %d", ErrWALCorrupted, length)
	}

	poolBufPtr := decoderPool.Get().(*[]byte)
	poolBuf := *poolBufPtr
	if cap(poolBuf) < int(length) {
		poolBuf = make([]byte, length)
	} else {
		poolBuf = poolBuf[:length]
	}
	defer func() {
		*poolBufPtr = poolBuf[:0]
		decoderPool.Put(poolBufPtr)
	}()

	if _, err := io.ReadFull(d.r, poolBuf); err != nil {
		return nil, noEOF(err)
	}
	if _, err := io.ReadFull(d.r, d.buf); err != nil {
		return nil, noEOF(err)
	}
	expected := binary.BigEndian.Uint32(d.buf)
	if actual := crc32.ChecksumIEEE(poolBuf); expected != actual {
		return nil, fmt.Errorf("%w: CRC mismatch (expected %08x, got %08x)", ErrWALCorrupted, expected, actual)
	}

	data := make([]byte, length)
	copy(data, poolBuf)
	return decodeMessage(data)
}

func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

type fileReader struct {
	file *os.File
	dec  *decoder
}

func (r *fileReader) Read() (*Message, error) {
	return r.dec.Decode()
}

func (r *fileReader) Close() error {
	return r.file.Close()
}

// OpenWALForReading opens every segment in dir for reading from the start.
func OpenWALForReading(dir string) (Reader, error) {
	segments := findSegments(dir)
	if len(segments) == 0 {
		return nil, ErrWALNotFound
	}
	return &multiSegmentReader{dir: dir, segments: segments, current: -1}, nil
}

func findSegments(dir string) []int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var segments []int
	for _, entry := range entries {
		var idx int
		if n, _ := fmt.Sscanf(entry.Name(), "wal-%05d", &idx); n == 1 {
			segments = append(segments, idx)
		}
	}
	sort.Ints(segments)
	return segments
}

// multiSegmentReader reads through consecutive segments.
type multiSegmentReader struct {
	dir      string
	segments []int
	current  int
	reader   *fileReader
}

func (r *multiSegmentReader) Read() (*Message, error) {
	for {
		if r.reader == nil {
			r.current++
			if r.current >= len(r.segments) {
				return nil, io.EOF
			}
			file, err := os.Open(segmentPath(r.dir, r.segments[r.current]))
			if err != nil {
				return nil, err
			}
			r.reader = &fileReader{file: file, dec: newDecoder(bufio.NewReader(file))}
		}

		msg, err := r.reader.Read()
		if err == io.EOF {
			r.reader.Close()
			r.reader = nil
			continue
		}
		if err != nil {
			return nil, err
		}
		return msg, nil
	}
}

// readSegment reads from the first segment only, returning io.EOF at its
// end without advancing.
func (r *multiSegmentReader) readSegment(index int) (*Message, error) {
	if r.reader == nil {
		if r.current >= 0 {
			return nil, io.EOF
		}
		r.current = 0
		file, err := os.Open(segmentPath(r.dir, index))
		if err != nil {
			return nil, err
		}
		r.reader = &fileReader{file: file, dec: newDecoder(bufio.NewReader(file))}
	}
	return r.reader.Read()
}

func (r *multiSegmentReader) Close() error {
	if r.reader != nil {
		err := r.reader.Close()
		r.reader = nil
		return err
	}
	return nil
}

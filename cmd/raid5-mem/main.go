package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/behrlich/go-raid5"
	"github.com/behrlich/go-raid5/child"
	"github.com/behrlich/go-raid5/internal/iov"
	"github.com/behrlich/go-raid5/internal/logging"
)

func main() {
	var (
		numChildren = flag.Int("children", 4, "Number of child devices (N >= 3)")
		sizeStr     = flag.String("size", "8M", "Size of each child device (e.g., 8M, 64M)")
		verbose     = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	size, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("invalid size %q: %v", *sizeStr, err)
	}
	if *numChildren < 3 {
		log.Fatalf("children must be >= 3, got %d", *numChildren)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	devs := make([]child.Device, *numChildren)
	for i := range devs {
		devs[i] = child.NewMemory(size)
	}

	params := raid5.DefaultArrayParams(devs)
	array, err := raid5.NewArray(params)
	if err != nil {
		logger.Errorf("failed to build array: %v", err)
		os.Exit(1)
	}
	if err := array.Start(); err != nil {
		logger.Errorf("failed to start array: %v", err)
		os.Exit(1)
	}
	defer array.Stop()

	logger.Infof("raid5 array ready: children=%d strip_size=%d block_len=%d stripe_blocks=%d",
		*numChildren, params.StripSize, params.BlockLen, array.Geometry().StripeBlocks())

	fmt.Printf("go-raid5 self-check: %d children, %s each\n", *numChildren, formatSize(size))

	if err := runSelfCheck(array, logger); err != nil {
		logger.Errorf("self-check failed: %v", err)
		fmt.Println("VERDICT: FAIL")
		os.Exit(1)
	}
	fmt.Println("VERDICT: PASS")

	snap := array.Metrics().Snapshot()
	fmt.Printf("\nmetrics snapshot:\n")
	fmt.Printf("  read ops=%d write ops=%d reconstruct ops=%d\n", snap.ReadOps, snap.WriteOps, snap.ReconstructOps)
	fmt.Printf("  bytes read=%d written=%d\n", snap.ReadBytes, snap.WriteBytes)
	fmt.Printf("  errors read=%d write=%d reconstruct=%d\n", snap.ReadErrors, snap.WriteErrors, snap.ReconstructErrors)
	fmt.Printf("  avg latency=%dns p50=%dns p99=%dns\n", snap.AvgLatencyNs, snap.LatencyP50Ns, snap.LatencyP99Ns)
}

// runSelfCheck exercises the three scenarios the spec calls out as the
// module's core testable properties: a full-stripe write, a
// read-modify-write patch, and a degraded read after losing one child.
func runSelfCheck(array *raid5.Array, logger *logging.Logger) error {
	geom := array.Geometry()
	stripeBlocks := geom.StripeBlocks()
	blockLen := int(geom.BlockLen)

	logger.Infof("step 1: full-stripe write")
	original := fillPattern(int(stripeBlocks)*blockLen, 0x42)
	if err := array.SubmitRW(raid5.OpWrite, 0, stripeBlocks, iov.Vecs{original}); err != nil {
		return fmt.Errorf("full-stripe write: %w", err)
	}

	readBack := make([]byte, len(original))
	if err := array.SubmitRW(raid5.OpRead, 0, stripeBlocks, iov.Vecs{readBack}); err != nil {
		return fmt.Errorf("read after full-stripe write: %w", err)
	}
	if !bytesEqual(original, readBack) {
		return fmt.Errorf("read-back mismatch after full-stripe write")
	}

	logger.Infof("step 2: single-block read-modify-write")
	patch := fillPattern(blockLen, 0xAA)
	if err := array.SubmitRW(raid5.OpWrite, 0, 1, iov.Vecs{patch}); err != nil {
		return fmt.Errorf("RMW write: %w", err)
	}
	copy(original[:blockLen], patch)

	readBack = make([]byte, len(original))
	if err := array.SubmitRW(raid5.OpRead, 0, stripeBlocks, iov.Vecs{readBack}); err != nil {
		return fmt.Errorf("read after RMW: %w", err)
	}
	if !bytesEqual(original, readBack) {
		return fmt.Errorf("read-back mismatch after RMW")
	}

	logger.Infof("step 3: degrade a child and verify reconstructed read")
	// There's no live fault-injection hook on child.Memory, so the demo
	// swaps in a MockDevice pre-loaded with the same geometry to show
	// the reconstruction path deterministically; a real deployment
	// would mark the live child degraded in place instead.
	mock := child.NewMockDevice(childSizeBytes(array))
	mock.SetFailReads(true)

	degraded := raid5.DefaultArrayParams(append([]child.Device{mock}, trailingChildren(array)...))
	degradedArray, err := raid5.NewArray(degraded)
	if err != nil {
		return fmt.Errorf("build degraded array: %w", err)
	}
	if err := degradedArray.Start(); err != nil {
		return fmt.Errorf("start degraded array: %w", err)
	}
	defer degradedArray.Stop()

	if err := degradedArray.SubmitRW(raid5.OpWrite, 0, stripeBlocks, iov.Vecs{original}); err != nil {
		return fmt.Errorf("seed degraded array: %w", err)
	}

	reconstructed := make([]byte, len(original))
	if err := degradedArray.SubmitRW(raid5.OpRead, 0, stripeBlocks, iov.Vecs{reconstructed}); err != nil {
		return fmt.Errorf("degraded read: %w", err)
	}
	if !bytesEqual(original, reconstructed) {
		return fmt.Errorf("reconstructed read mismatch")
	}

	logger.Infof("self-check complete: parity, read-back, and reconstruction all verified")
	return nil
}

func childSizeBytes(a *raid5.Array) int64 {
	return int64(a.Geometry().StripSize) * int64(a.Geometry().BlockLen) * 4
}

func trailingChildren(a *raid5.Array) []child.Device {
	n := a.Geometry().NumChildren - 1
	devs := make([]child.Device, n)
	for i := range devs {
		devs[i] = child.NewMemory(childSizeBytes(a))
	}
	return devs
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func fillPattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

// parseSize parses a size string like "64M", "1G", "512K".
func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	multiplier := int64(1)
	numStr := s
	switch s[len(s)-1] {
	case 'K', 'k':
		multiplier = 1024
		numStr = s[:len(s)-1]
	case 'M', 'm':
		multiplier = 1024 * 1024
		numStr = s[:len(s)-1]
	case 'G', 'g':
		multiplier = 1024 * 1024 * 1024
		numStr = s[:len(s)-1]
	}
	var num int64
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}

package detections

import (
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// CPUFeatures lists the vector extensions the CPU execution provider can use.
type CPUFeatures struct {
	Arch    string   `json:"arch"`
	NumCPU  int      `json:"num_cpu"`
	Vectors []string `json:"vectors"`
}

func (f CPUFeatures) String() string {
	if len(f.Vectors) == 0 {
		return f.Arch + " (no vector extensions detected)"
	}
	return f.Arch + " " + strings.Join(f.Vectors, ",")
}

// DetectCPUFeatures reports vector extensions of the host CPU.
func DetectCPUFeatures() CPUFeatures {
	f := CPUFeatures{Arch: runtime.GOARCH, NumCPU: runtime.NumCPU()}
	add := func(ok bool, name string) {
		if ok {
			f.Vectors = append(f.Vectors, name)
		}
	}

	switch runtime.GOARCH {
	case "amd64", "386":
		add(cpu.X86.HasSSE41, "sse4.1")
		add(cpu.X86.HasAVX, "avx")
		add(cpu.X86.HasAVX2, "avx2")
		add(cpu.X86.HasFMA, "fma")
		add(cpu.X86.HasAVX512F, "avx512f")
	case "arm64":
		add(cpu.ARM64.HasASIMD, "neon")
		add(cpu.ARM64.HasFPHP, "fp16")
		add(cpu.ARM64.HasASIMDDP, "dotprod")
	}
	return f
}

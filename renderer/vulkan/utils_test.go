package vulkan

import (
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vetro/renderer/metadata"
)

func TestSafeStringTerminated(t *testing.T) {
	s := SafeString("main")
	if len(s) == 0 || s[len(s)-1] != '\x00' {
		t.Fatalf("SafeString(%q) = %q, want null terminated", "main", s)
	}
	// Already terminated strings must not grow.
	if got := SafeString(s); len(got) != len(s) {
		t.Errorf("SafeString double-terminated: %d bytes, want %d", len(got), len(s))
	}
}

func TestFirstZeroIndex(t *testing.T) {
	buf := []byte{'a', 'b', 0, 'c'}
	if got := firstZeroIndex(buf); got != 2 {
		t.Errorf("firstZeroIndex = %d, want 2", got)
	}
	if got := firstZeroIndex([]byte{'x'}); got != 1 {
		t.Errorf("firstZeroIndex without zero = %d, want len", got)
	}
}

func TestResultString(t *testing.T) {
	if got := ResultString(vk.ErrorOutOfDate); got != "VK_ERROR_OUT_OF_DATE_KHR" {
		t.Errorf("ResultString(ErrorOutOfDate) = %q", got)
	}
	if ResultIsSuccess(vk.ErrorDeviceLost) {
		t.Error("ErrorDeviceLost reported as success")
	}
	if !ResultIsSuccess(vk.Suboptimal) {
		t.Error("Suboptimal reported as failure")
	}
}

func TestClamp(t *testing.T) {
	if got := clamp(5, 10, 20); got != 10 {
		t.Errorf("clamp(5,10,20) = %d", got)
	}
	if got := clamp(25, 10, 20); got != 20 {
		t.Errorf("clamp(25,10,20) = %d", got)
	}
	if got := clamp(15, 10, 20); got != 15 {
		t.Errorf("clamp(15,10,20) = %d", got)
	}
}

// The attribute descriptions and the instance stride must agree with the
// actual Go struct layouts, since those structs are shared with the host.
func TestVertexInputLayout(t *testing.T) {
	var v3 metadata.Vertex3D
	attrs := vertex3DAttributes()
	if len(attrs) != 5 {
		t.Fatalf("vertex3DAttributes: %d attributes, want 5", len(attrs))
	}
	if attrs[4].Offset != uint32(unsafe.Offsetof(v3.Tangent)) {
		t.Errorf("tangent offset %d, want %d", attrs[4].Offset, unsafe.Offsetof(v3.Tangent))
	}
	if unsafe.Sizeof(v3) != 64 {
		t.Errorf("Vertex3D size %d, want 64", unsafe.Sizeof(v3))
	}

	var v2 metadata.Vertex2D
	if unsafe.Sizeof(v2) != 40 {
		t.Errorf("Vertex2D size %d, want 40", unsafe.Sizeof(v2))
	}

	if instanceStride() != 128 {
		t.Errorf("instance stride %d, want 128", instanceStride())
	}
	inst := instanceAttributes(5)
	if len(inst) != 8 {
		t.Fatalf("instanceAttributes: %d attributes, want 8", len(inst))
	}
	if inst[0].Location != 5 || inst[7].Location != 12 {
		t.Errorf("instance locations [%d,%d], want [5,12]", inst[0].Location, inst[7].Location)
	}
	if inst[7].Offset != 112 {
		t.Errorf("last column offset %d, want 112", inst[7].Offset)
	}
}

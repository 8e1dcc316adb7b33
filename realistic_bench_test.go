package mempool

import (
	"runtime"
	"testing"
	"unsafe"
)

// BenchmarkRealisticUsage tests scenarios where the allocators should excel
func BenchmarkRealisticUsage(b *testing.B) {

	// Test 1: Many small allocations with periodic cleanup
	b.Run("ManySmallAllocs/Arena", func(b *testing.B) {
		a, _ := NewArena(64 * 1024)
		defer a.Release()
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			for j := 0; j < 100; j++ {
				a.AllocBytes(64)
			}
			// simulates request cleanup
			a.Reset()
		}
	})

	b.Run("ManySmallAllocs/Builtin", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			objects := make([][]byte, 100)
			for j := 0; j < 100; j++ {
				objects[j] = make([]byte, 64)
			}
			if i%10 == 0 {
				runtime.GC()
			}
		}
	})

	// Test 2: Struct allocation patterns
	type TestStruct struct {
		ID   int64
		Data [56]byte
	}

	b.Run("StructAllocs/Arena", func(b *testing.B) {
		a, _ := NewArena(64 * 1024)
		defer a.Release()
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			for j := 0; j < 50; j++ {
				s, _ := New[TestStruct](a)
				s.ID = int64(j)
			}
			a.Reset()
		}
	})

	b.Run("StructAllocs/Slab", func(b *testing.B) {
		s, _ := NewSlab(int(unsafe.Sizeof(TestStruct{})), 64)
		defer s.Release()
		held := make([]*TestStruct, 50)
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			for j := range held {
				held[j], _ = NewBlock[TestStruct](s)
				held[j].ID = int64(j)
			}
			for _, t := range held {
				FreeBlock(s, t)
			}
		}
	})

	b.Run("StructAllocs/Builtin", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			structs := make([]*TestStruct, 50)
			for j := 0; j < 50; j++ {
				structs[j] = &TestStruct{ID: int64(j)}
			}
			if i%10 == 0 {
				runtime.GC()
			}
		}
	})

	// Test 3: Object churn, one block live at a time
	b.Run("Churn/Slab", func(b *testing.B) {
		s, _ := NewSlab(128, 1024)
		defer s.Release()
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			p, _ := s.Alloc()
			s.Free(p)
		}
	})

	b.Run("Churn/Local", func(b *testing.B) {
		p, _ := NewPool(128, 16, 1024)
		defer p.Release()
		l, _ := p.Attach()
		defer l.Detach()
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			ptr, _ := l.Alloc()
			l.Free(ptr)
		}
	})

	b.Run("Churn/Builtin", func(b *testing.B) {
		var sink []byte
		for i := 0; i < b.N; i++ {
			sink = make([]byte, 128)
		}
		_ = sink
	})

	// Test 4: No GC pressure test
	b.Run("NoGCPressure/Arena", func(b *testing.B) {
		a, _ := NewArena(1024 * 1024)
		defer a.Release()
		runtime.GC()

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			a.AllocBytes(128)
			if i%1000 == 999 {
				a.Reset()
			}
		}
	})

	b.Run("NoGCPressure/Builtin", func(b *testing.B) {
		runtime.GC()

		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = make([]byte, 128)
		}
	})
}

package pollengine

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// setupBenchEngine starts an engine against one fake host with n readable
// fields and waits until all of them are polled.
func setupBenchEngine(b *testing.B, n int) (*Engine, []FieldLink, []uint32) {
	b.Helper()

	fields := make([]FieldDef, n)
	host := newFakeHost()
	for i := range fields {
		fields[i] = FieldDef{Name: fmt.Sprintf("Field%04d", i), ID: uint32(i + 1), Type: FieldTypeInt, Access: AccessRead}
	}
	host.addDriver("Bench", 1, fields...)
	for i := range fields {
		host.setValue("Bench", fields[i].ID, IntValue(int64(i)))
	}
	dialer := newFakeDialer()
	dialer.add("bench:1", host)
	resolver := newMapResolver()
	resolver.set("Bench", "bench:1")

	cfg := testConfig()
	cfg.DropInterval = time.Minute
	e, err := New(cfg, dialer, resolver)
	if err != nil {
		b.Fatalf("New() error = %v", err)
	}
	if err := e.Start(context.Background(), "", 0); err != nil {
		b.Fatalf("Start() error = %v", err)
	}
	b.Cleanup(e.Stop)

	links := make([]FieldLink, n)
	serials := make([]uint32, n)
	deadline := time.Now().Add(5 * time.Second)
	for i := range fields {
		for {
			res, reg := e.RegisterField("Bench", fields[i].Name, AccessRead)
			if res == RegisterOK {
				links[i] = reg.Link
				break
			}
			if time.Now().After(deadline) {
				b.Fatalf("registering %s: %v", fields[i].Name, res)
			}
			time.Sleep(time.Millisecond)
		}
	}
	for i := range links {
		for {
			res, r := e.QueryValue("Bench", &links[i], 0)
			if res == QueryNewValue && r.State == FieldStateReady {
				serials[i] = r.Serial
				break
			}
			if time.Now().After(deadline) {
				b.Fatalf("waiting for field %d: %v", i, res)
			}
			time.Sleep(time.Millisecond)
		}
	}
	return e, links, serials
}

func BenchmarkEngineQueryValueNoChange(b *testing.B) {
	e, links, serials := setupBenchEngine(b, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx := i % len(links)
		e.QueryValue("Bench", &links[idx], serials[idx])
	}
}

func BenchmarkEngineQueryValueParallel(b *testing.B) {
	e, links, serials := setupBenchEngine(b, 100)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			idx := i % len(links)
			link := links[idx]
			e.QueryValue("Bench", &link, serials[idx])
			i++
		}
	})
}

func BenchmarkEngineReadValue(b *testing.B) {
	e, _, _ := setupBenchEngine(b, 10)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.ReadValue("Bench", "Field0003"); err != nil {
			b.Fatalf("ReadValue() error = %v", err)
		}
	}
}

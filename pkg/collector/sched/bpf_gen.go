//go:build linux
// +build linux

package sched

//go:generate clang -O2 -g -target bpf -D__TARGET_ARCH_x86 -I../../../bpf -c ../../../bpf/oncpu.c -o ../../../bpf/oncpu.bpf.o

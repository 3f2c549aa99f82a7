// Copyright (C) 2023 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ofhc

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// csvHeader is the fixed header for cmd_results_list.log.csv, in column order.
var csvHeader = []string{
	"System Uptime", "Command Number", "Command Line", "Cores Ran",
	"ACF", "ACF Failing Cores", "ACF Details",
	"MCE", "MCE Failing Cores", "MCE Details",
}

// resultLogSink is the append-only CSV result writer plus the rotating
// single-entry "currently executing command" file used for post-mortem
// diagnosis after a crash. One writer only: all writes are issued from
// Harness.Run's single command loop, so no locking is needed.
type resultLogSink struct {
	csvFile *os.File
	csv     *csv.Writer
	curCmd  string // path to the rotating current-command file
}

func newResultLogSink(logDir string) (*resultLogSink, error) {
	csvPath := logDir + "/cmd_results_list.log.csv"
	f, err := os.OpenFile(csvPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening result log %q: %w", csvPath, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			f.Close()
			return nil, err
		}
		w.Flush()
	}

	return &resultLogSink{
		csvFile: f,
		csv:     w,
		curCmd:  logDir + "/cur_cmd",
	}, nil
}

// WriteCurrentCommand overwrites the rotating cur_cmd file with the
// about-to-execute command line, so a post-mortem reader can see what was
// running when the process crashed. Mirrors the source's
// maxBytes=10,backupCount=1 rotating handler: the file holds exactly the
// latest line.
func (s *resultLogSink) WriteCurrentCommand(commandNumber int, commandLine string) error {
	line := fmt.Sprintf("%d,%s\n", commandNumber, commandLine)
	return os.WriteFile(s.curCmd, []byte(line), 0644)
}

// WriteResult appends one row to the CSV result log for a completed command.
// ACF details are joined with ";"; MCA bank descriptions with ";;", per the
// log sink's join rules.
func (s *resultLogSink) WriteResult(uptime string, rec *TestRunRecord) error {
	mceCores := mcaFailingCores(rec.MCABanks)
	mceDetails := make([]string, 0, len(rec.MCABanks))
	for _, b := range rec.MCABanks {
		mceDetails = append(mceDetails, b.String())
	}

	row := []string{
		uptime,
		strconv.Itoa(rec.CommandNumber),
		rec.CommandLine,
		joinInts(rec.Cores),
		strconv.FormatBool(rec.ACF),
		joinInts(rec.ACFCores),
		strings.Join(rec.ACFDetails, ";"),
		strconv.FormatBool(rec.MCA),
		joinInts(mceCores),
		strings.Join(mceDetails, ";;"),
	}
	if err := s.csv.Write(row); err != nil {
		return err
	}
	s.csv.Flush()
	return s.csv.Error()
}

// Close flushes and closes the CSV file handle.
func (s *resultLogSink) Close() error {
	s.csv.Flush()
	return s.csvFile.Close()
}

func mcaFailingCores(banks []MCABank) []int {
	seen := make(map[int]struct{})
	var cores []int
	for _, b := range banks {
		if _, ok := seen[b.CoreID]; ok {
			continue
		}
		seen[b.CoreID] = struct{}{}
		cores = append(cores, b.CoreID)
	}
	sort.Ints(cores)
	return cores
}

func joinInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

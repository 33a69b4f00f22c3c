// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	peparser "github.com/saferwall/eazdevirt"
	"github.com/saferwall/eazdevirt/log"
)

func humanizeTimestamp(ts uint32) string {
	return time.Unix(int64(ts), 0).UTC().String()
}

// bytesSize renders n as a short human-readable byte count (KB/MB/GB).
func bytesSize(n float64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%.0fB", n)
	}
	div, exp := float64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", n/div, "KMGTPE"[exp])
}

func hexDumpSize(b []byte, size int) {
	var a [16]byte
	if len(b) < size {
		temp := make([]byte, size)
		copy(temp, b)
		b = temp
	}

	n := (size + 15) &^ 15
	for i := 0; i < n; i++ {
		if i%16 == 0 {
			fmt.Printf("%4d", i)
		}
		if i%8 == 0 {
			fmt.Print(" ")
		}
		if i < len(b) {
			fmt.Printf(" %02X", b[i])
		} else {
			fmt.Print("   ")
		}
		if i >= len(b) {
			a[i%16] = ' '
		} else if b[i] < 32 || b[i] > 126 {
			a[i%16] = '.'
		} else {
			a[i%16] = b[i]
		}
		if i%16 == 15 {
			fmt.Printf("  %s\n", string(a[:]))
		}
	}
}

func intToByteArray(v uint64) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func dump(path string, cfg config) {
	logger := log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(log.LevelWarn))
	helper := log.NewHelper(logger)

	data, err := os.ReadFile(path)
	if err != nil {
		helper.Errorf("read %s: %v", path, err)
		return
	}

	pf, err := peparser.NewBytes(data, &peparser.Options{Logger: logger})
	if err != nil {
		helper.Errorf("open %s: %v", path, err)
		return
	}
	defer pf.Close()

	if err := pf.Parse(); err != nil {
		helper.Errorf("parse %s: %v", path, err)
		return
	}

	fmt.Printf("\n==== %s ====\n", path)

	if cfg.wantDOSHeader || cfg.wantAll {
		dumpDOSHeader(pf)
	}
	if cfg.wantNTHeader || cfg.wantAll {
		dumpNTHeader(pf)
	}
	if cfg.wantSections || cfg.wantAll {
		dumpSections(pf)
	}
	if cfg.wantCLR && pf.FileInfo.HasCLR || cfg.wantAll && pf.FileInfo.HasCLR {
		dumpCLR(pf)
	}
}

func dumpDOSHeader(pf *peparser.File) {
	dh := pf.DOSHeader
	magic := string(intToByteArray(uint64(dh.Magic)))
	signature := string(intToByteArray(uint64(pf.NtHeader.Signature)))
	w := tabwriter.NewWriter(os.Stdout, 1, 1, 3, ' ', tabwriter.AlignRight)
	fmt.Print("\n\t------[ DOS Header ]------\n\n")
	fmt.Fprintf(w, "Magic:\t 0x%x (%s)\n", dh.Magic, magic)
	fmt.Fprintf(w, "Bytes On Last Page Of File:\t 0x%x\n", dh.BytesOnLastPageOfFile)
	fmt.Fprintf(w, "Pages In File:\t 0x%x\n", dh.PagesInFile)
	fmt.Fprintf(w, "Relocations:\t 0x%x\n", dh.Relocations)
	fmt.Fprintf(w, "Size Of Header:\t 0x%x\n", dh.SizeOfHeader)
	fmt.Fprintf(w, "Initial SS:\t 0x%x\n", dh.InitialSS)
	fmt.Fprintf(w, "Initial SP:\t 0x%x\n", dh.InitialSP)
	fmt.Fprintf(w, "Initial IP:\t 0x%x\n", dh.InitialIP)
	fmt.Fprintf(w, "Initial CS:\t 0x%x\n", dh.InitialCS)
	fmt.Fprintf(w, "Address Of New EXE Header:\t 0x%x (%s)\n", dh.AddressOfNewEXEHeader, signature)
	w.Flush()
}

func dumpNTHeader(pf *peparser.File) {
	fh := pf.NtHeader.FileHeader
	w := tabwriter.NewWriter(os.Stdout, 1, 1, 3, ' ', tabwriter.AlignRight)
	characteristics := strings.Join(fh.Characteristics.String(), " | ")

	fmt.Print("\n\t------[ File Header ]------\n\n")
	fmt.Fprintf(w, "Machine:\t 0x%x (%s)\n", int(fh.Machine), fh.Machine.String())
	fmt.Fprintf(w, "Number Of Sections:\t 0x%x\n", fh.NumberOfSections)
	fmt.Fprintf(w, "TimeDateStamp:\t 0x%x (%s)\n", fh.TimeDateStamp, humanizeTimestamp(fh.TimeDateStamp))
	fmt.Fprintf(w, "Size Of Optional Header:\t 0x%x\n", fh.SizeOfOptionalHeader)
	fmt.Fprintf(w, "Characteristics:\t 0x%x (%s)\n", fh.Characteristics, characteristics)
	w.Flush()

	fmt.Print("\n\t------[ Optional Header ]------\n\n")
	w = tabwriter.NewWriter(os.Stdout, 1, 1, 3, ' ', tabwriter.AlignRight)
	if pf.Is64 {
		oh := pf.NtHeader.OptionalHeader.(peparser.ImageOptionalHeader64)
		dumpOptionalHeaderCommon(w, pf, oh.Magic, oh.AddressOfEntryPoint, oh.ImageBase,
			oh.SizeOfImage, oh.SizeOfHeaders, oh.Subsystem, oh.DllCharacteristics, oh.DataDirectory[:])
	} else {
		oh := pf.NtHeader.OptionalHeader.(peparser.ImageOptionalHeader32)
		dumpOptionalHeaderCommon(w, pf, oh.Magic, oh.AddressOfEntryPoint, uint64(oh.ImageBase),
			oh.SizeOfImage, oh.SizeOfHeaders, oh.Subsystem, oh.DllCharacteristics, oh.DataDirectory[:])
	}
	w.Flush()
}

func dumpOptionalHeaderCommon(w *tabwriter.Writer, pf *peparser.File, magic uint16,
	entryPoint uint32, imageBase uint64, sizeOfImage, sizeOfHeaders uint32,
	subsystem peparser.ImageOptionalHeaderSubsystemType,
	dllCharacteristics peparser.ImageOptionalHeaderDllCharacteristicsType,
	dataDirs []peparser.DataDirectory) {

	dllChars := strings.Join(dllCharacteristics.String(), " | ")
	fmt.Fprintf(w, "Magic:\t 0x%x (%s)\n", magic, pf.PrettyOptionalHeaderMagic())
	fmt.Fprintf(w, "Address Of Entry Point:\t 0x%x\n", entryPoint)
	fmt.Fprintf(w, "Image Base:\t 0x%x\n", imageBase)
	fmt.Fprintf(w, "Size Of Image:\t 0x%x (%s)\n", sizeOfImage, bytesSize(float64(sizeOfImage)))
	fmt.Fprintf(w, "Size Of Headers:\t 0x%x (%s)\n", sizeOfHeaders, bytesSize(float64(sizeOfHeaders)))
	fmt.Fprintf(w, "Subsystem:\t 0x%x (%s)\n", uint16(subsystem), subsystem.String())
	fmt.Fprintf(w, "Dll Characteristics:\t 0x%x (%s)\n", uint16(dllCharacteristics), dllChars)
	fmt.Fprintf(w, "\n")
	for entry := peparser.ImageDirectoryEntry(0); entry < peparser.ImageNumberOfDirectoryEntries; entry++ {
		rva := dataDirs[entry].VirtualAddress
		size := dataDirs[entry].Size
		fmt.Fprintf(w, "%s Table:\t RVA: 0x%0.8x\t Size:0x%0.8x\t\n", entry.String(), rva, size)
	}
}

func dumpSections(pf *peparser.File) {
	if !pf.FileInfo.HasSections {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 1, 1, 3, ' ', tabwriter.AlignRight)
	for i, sec := range pf.Sections {
		hdr := sec.Header
		fmt.Printf("\n\t------[ Section Header #%d ]------\n\n", i)
		fmt.Fprintf(w, "Name:\t %v (%s)\n", hdr.Name, sec.String())
		fmt.Fprintf(w, "Virtual Size:\t 0x%x (%s)\n", hdr.VirtualSize, bytesSize(float64(hdr.VirtualSize)))
		fmt.Fprintf(w, "Virtual Address:\t 0x%x\n", hdr.VirtualAddress)
		fmt.Fprintf(w, "Size Of Raw Data:\t 0x%x (%s)\n", hdr.SizeOfRawData, bytesSize(float64(hdr.SizeOfRawData)))
		fmt.Fprintf(w, "Pointer To Raw Data:\t 0x%x\n", hdr.PointerToRawData)
		fmt.Fprintf(w, "Characteristics:\t 0x%x (%s)\n", hdr.Characteristics,
			strings.Join(sec.PrettySectionFlags(), " | "))
		fmt.Fprintf(w, "Entropy:\t %f\n", sec.CalculateEntropy(pf))
		w.Flush()
	}
}

func dumpCLR(pf *peparser.File) {
	fmt.Printf("\nCLR\n****\n")

	fmt.Print("\n\t------[ CLR Header ]------\n\n")
	clr := pf.CLR
	w := tabwriter.NewWriter(os.Stdout, 1, 1, 3, ' ', tabwriter.AlignRight)

	clrHdr := clr.CLRHeader
	flags := strings.Join(clrHdr.Flags.String(), " | ")
	fmt.Fprintf(w, "Size Of Header:\t 0x%x\n", clrHdr.Cb)
	fmt.Fprintf(w, "Major Runtime Version:\t 0x%x\n", clrHdr.MajorRuntimeVersion)
	fmt.Fprintf(w, "Minor Runtime Version:\t 0x%x\n", clrHdr.MinorRuntimeVersion)
	fmt.Fprintf(w, "MetaData RVA:\t 0x%x\n", clrHdr.MetaData.VirtualAddress)
	fmt.Fprintf(w, "MetaData Size:\t 0x%x\n", clrHdr.MetaData.Size)
	fmt.Fprintf(w, "Flags:\t 0x%x (%v)\n", clrHdr.Flags, flags)
	fmt.Fprintf(w, "EntryPoint RVA or Token:\t 0x%x\n", clrHdr.EntryPointRVAorToken)
	w.Flush()

	fmt.Print("\n\t------[ MetaData Header ]------\n\n")
	mdHdr := clr.MetadataHeader
	fmt.Fprintf(w, "Signature:\t 0x%x (%s)\n", mdHdr.Signature, string(intToByteArray(uint64(mdHdr.Signature))))
	fmt.Fprintf(w, "Major Version:\t 0x%x\n", mdHdr.MajorVersion)
	fmt.Fprintf(w, "Minor Version:\t 0x%x\n", mdHdr.MinorVersion)
	fmt.Fprintf(w, "Version String:\t %s\n", mdHdr.Version)
	fmt.Fprintf(w, "Streams Count:\t 0x%x\n", mdHdr.Streams)
	w.Flush()

	fmt.Print("\n\t------[ MetaData Streams ]------\n\n")
	for _, sh := range clr.MetadataStreamHeaders {
		fmt.Fprintf(w, "Stream Name:\t %s\n", sh.Name)
		fmt.Fprintf(w, "Offset:\t 0x%x\n", sh.Offset)
		fmt.Fprintf(w, "Size:\t 0x%x (%s)\n", sh.Size, bytesSize(float64(sh.Size)))
		w.Flush()
		fmt.Print("\n   ---Stream Content---\n")
		hexDumpSize(clr.MetadataStreams[sh.Name], 128)
		fmt.Print("\n")
	}

	fmt.Print("\n\t------[ MetaData Tables ]------\n\n")
	for _, mdTable := range clr.MetadataTables {
		fmt.Fprintf(w, "Name:\t %s | Items Count:\t 0x%x\n", mdTable.Name, mdTable.CountCols)
	}
	w.Flush()

	if modTable, ok := clr.MetadataTables[peparser.Module]; ok && modTable.Content != nil {
		fmt.Print("\n\t[Module]\n\t--------\n")
		row := modTable.Content.(peparser.ModuleTableRow)
		name := pf.GetStringFromData(row.Name, clr.MetadataStreams["#Strings"])
		mvid := pf.GetStringFromData(row.Mvid, clr.MetadataStreams["#GUID"])
		fmt.Fprintf(w, "Generation:\t 0x%x\n", row.Generation)
		fmt.Fprintf(w, "Name:\t 0x%x (%s)\n", row.Name, string(name))
		fmt.Fprintf(w, "Mvid:\t 0x%x (%s)\n", row.Mvid, hex.EncodeToString(mvid))
		w.Flush()
	}
}

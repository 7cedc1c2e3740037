package main

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// makeNIfTI builds a synthetic 16x16x4 int16 volume in memory.
func makeNIfTI(t *testing.T, order binary.ByteOrder, slope float32, inter float32) []byte {
	t.Helper()
	var header niftiHeader
	header.SizeOfHdr = niftiHeaderSize
	header.Dim = [8]int16{3, 16, 16, 4, 0, 0, 0, 0}
	header.PixDim = [8]float32{1, 0.5, 0.5, 2.0, 0, 0, 0, 0}
	header.DataType = dtInt16
	header.BitPix = 16
	header.VoxOffset = 352
	header.SclSlope = slope
	header.SclInter = inter
	header.Magic = [4]int8{'n', '+', '1', 0}

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, order, &header); err != nil {
		t.Fatal(err)
	}
	// pad to vox_offset
	buf.Write(make([]byte, int(header.VoxOffset)-buf.Len()))
	voxels := make([]int16, 16*16*4)
	for i := range voxels {
		voxels[i] = int16(i % 100)
	}
	if err := binary.Write(buf, order, voxels); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func Test_readNIfTIHeader(t *testing.T) {
	tests := []struct {
		name  string
		order binary.ByteOrder
	}{
		{"Little endian", binary.LittleEndian},
		{"Big endian", binary.BigEndian},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := makeNIfTI(t, tt.order, 1, 0)
			header, order, err := readNIfTIHeader(content)
			if err != nil {
				t.Fatalf("readNIfTIHeader() error = %v", err)
			}
			if order != tt.order {
				t.Errorf("detected byte order = %v, want %v", order, tt.order)
			}
			if header.Dim[1] != 16 || header.Dim[3] != 4 {
				t.Errorf("header.Dim = %v", header.Dim)
			}
		})
	}
}

func Test_readNIfTIHeaderRejectsGarbage(t *testing.T) {
	if _, _, err := readNIfTIHeader(make([]byte, 100)); err == nil {
		t.Error("a truncated header should not parse")
	}
	if _, _, err := readNIfTIHeader(make([]byte, 600)); err == nil {
		t.Error("a zero header should not parse")
	}
}

func Test_readNIfTIData(t *testing.T) {
	content := makeNIfTI(t, binary.LittleEndian, 1, 0)
	header, order, err := readNIfTIHeader(content)
	if err != nil {
		t.Fatal(err)
	}
	data, err := readNIfTIData(content, header, order)
	if err != nil {
		t.Fatalf("readNIfTIData() error = %v", err)
	}
	if len(data) != 16*16*4 {
		t.Fatalf("len(data) = %d, want %d", len(data), 16*16*4)
	}
	if data[0] != 0 || data[7] != 7 || data[101] != 1 {
		t.Errorf("voxel values = %v %v %v", data[0], data[7], data[101])
	}
}

func Test_readNIfTIDataScaling(t *testing.T) {
	// scl_slope/scl_inter have to be applied when set
	content := makeNIfTI(t, binary.LittleEndian, 2, 1)
	header, order, err := readNIfTIHeader(content)
	if err != nil {
		t.Fatal(err)
	}
	data, err := readNIfTIData(content, header, order)
	if err != nil {
		t.Fatal(err)
	}
	if data[7] != 15 { // 7*2+1
		t.Errorf("scaled voxel = %v, want 15", data[7])
	}
}

func Test_readNIfTIBytesGzip(t *testing.T) {
	raw := makeNIfTI(t, binary.LittleEndian, 1, 0)
	dir := t.TempDir()

	plain := filepath.Join(dir, "brainA.nii")
	if err := os.WriteFile(plain, raw, 0644); err != nil {
		t.Fatal(err)
	}
	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	w.Write(raw)
	w.Close()
	zipped := filepath.Join(dir, "brainA.nii.gz")
	if err := os.WriteFile(zipped, gz.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{plain, zipped} {
		content, err := readNIfTIBytes(path)
		if err != nil {
			t.Fatalf("readNIfTIBytes(%s) error = %v", path, err)
		}
		if len(content) != len(raw) {
			t.Errorf("readNIfTIBytes(%s) = %d bytes, want %d", path, len(content), len(raw))
		}
	}
}

func Test_niftiSummary(t *testing.T) {
	raw := makeNIfTI(t, binary.LittleEndian, 1, 0)
	dir := t.TempDir()
	path := filepath.Join(dir, "brainA.nii")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatal(err)
	}
	got, err := niftiSummary(path)
	if err != nil {
		t.Fatalf("niftiSummary() error = %v", err)
	}
	want := "16x16x4 voxels, 0.50x0.50x2.00 mm, datatype 4"
	if got != want {
		t.Errorf("niftiSummary() = %q, want %q", got, want)
	}
}

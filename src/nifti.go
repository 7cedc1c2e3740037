package main

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// NIfTI-1 header, 348 bytes, as defined in nifti1.h. Only read access, fbp
// never writes image files itself.
type niftiHeader struct {
	SizeOfHdr          int32
	UnusedDataType     [10]int8
	UnusedDbName       [18]int8
	UnusedExtents      int32
	UnusedSessionError int16
	UnusedRegular      int8
	DimInfo            int8

	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	DataType      int16
	BitPix        int16
	SliceStart    int16
	PixDim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     int8
	XYZTUnits     int8
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	TOffset       float32
	UnusedGlmax   int32
	UnusedGlmin   int32

	Descrip [80]int8
	AuxFile [24]int8

	QFormCode int16
	SFormCode int16

	QuaternB float32
	QuaternC float32
	QuaternD float32
	QOffsetX float32
	QOffsetY float32
	QOffsetZ float32

	SRowX [4]float32
	SRowY [4]float32
	SRowZ [4]float32

	IntentName [16]int8

	Magic [4]int8
}

const niftiHeaderSize = 348

// datatype codes from nifti1.h that we can convert to float64
const (
	dtUInt8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
)

// readNIfTIBytes returns the raw bytes of a .nii or .nii.gz file, inflated
// if the content is gzip compressed.
func readNIfTIBytes(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(content) < 512 {
		return nil, fmt.Errorf("%s is too small to be a NIfTI file", path)
	}
	mime := http.DetectContentType(content[:512])
	log.WithFields(log.Fields{"path": path, "mimeType": mime}).Debug("reading volume")
	if mime == "application/x-gzip" {
		g, err := gzip.NewReader(bytes.NewReader(content))
		if err != nil {
			return nil, err
		}
		defer g.Close()
		content, err = io.ReadAll(g)
		if err != nil {
			return nil, err
		}
	}
	return content, nil
}

// readNIfTIHeader parses the 348 byte header and detects the byte order
// from the SizeOfHdr field.
func readNIfTIHeader(content []byte) (niftiHeader, binary.ByteOrder, error) {
	var header niftiHeader
	if len(content) < niftiHeaderSize {
		return header, nil, fmt.Errorf("file is shorter than the NIfTI-1 header")
	}
	var order binary.ByteOrder = binary.LittleEndian
	if err := binary.Read(bytes.NewReader(content), order, &header); err != nil {
		return header, nil, err
	}
	if header.SizeOfHdr != niftiHeaderSize {
		order = binary.BigEndian
		if err := binary.Read(bytes.NewReader(content), order, &header); err != nil {
			return header, nil, err
		}
		if header.SizeOfHdr != niftiHeaderSize {
			return header, nil, fmt.Errorf("not a NIfTI-1 file, header size is %d", header.SizeOfHdr)
		}
	}
	return header, order, nil
}

// readNIfTIData converts the voxel block to float64, only for the datatypes
// the preview needs. The scl_slope/scl_inter scaling is applied when set.
func readNIfTIData(content []byte, header niftiHeader, order binary.ByteOrder) ([]float64, error) {
	nvox := 1
	ndim := int(header.Dim[0])
	if ndim < 1 || ndim > 7 {
		return nil, fmt.Errorf("implausible number of dimensions %d", ndim)
	}
	for i := 1; i <= ndim; i++ {
		if header.Dim[i] > 0 {
			nvox *= int(header.Dim[i])
		}
	}
	offset := int(header.VoxOffset)
	if offset < niftiHeaderSize {
		offset = niftiHeaderSize
	}
	bytesPer := int(header.BitPix) / 8
	if len(content) < offset+nvox*bytesPer {
		return nil, fmt.Errorf("voxel block is truncated, want %d bytes", nvox*bytesPer)
	}
	r := bytes.NewReader(content[offset:])

	data := make([]float64, nvox)
	switch header.DataType {
	case dtUInt8:
		raw := make([]uint8, nvox)
		if err := binary.Read(r, order, &raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			data[i] = float64(v)
		}
	case dtInt16:
		raw := make([]int16, nvox)
		if err := binary.Read(r, order, &raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			data[i] = float64(v)
		}
	case dtInt32:
		raw := make([]int32, nvox)
		if err := binary.Read(r, order, &raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			data[i] = float64(v)
		}
	case dtFloat32:
		raw := make([]float32, nvox)
		if err := binary.Read(r, order, &raw); err != nil {
			return nil, err
		}
		for i, v := range raw {
			data[i] = float64(v)
		}
	case dtFloat64:
		if err := binary.Read(r, order, &data); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("datatype %d is not supported for preview", header.DataType)
	}

	if header.SclSlope != 0 && (header.SclSlope != 1 || header.SclInter != 0) {
		for i := range data {
			data[i] = data[i]*float64(header.SclSlope) + float64(header.SclInter)
		}
	}
	return data, nil
}

// niftiSummary is the one-line description used by status and preview.
func niftiSummary(path string) (string, error) {
	content, err := readNIfTIBytes(path)
	if err != nil {
		return "", err
	}
	header, _, err := readNIfTIHeader(content)
	if err != nil {
		return "", err
	}
	ndim := int(header.Dim[0])
	dims := make([]string, 0, ndim)
	spacing := make([]string, 0, ndim)
	for i := 1; i <= ndim; i++ {
		dims = append(dims, fmt.Sprintf("%d", header.Dim[i]))
		spacing = append(spacing, fmt.Sprintf("%.2f", header.PixDim[i]))
	}
	return fmt.Sprintf("%s voxels, %s mm, datatype %d",
		strings.Join(dims, "x"), strings.Join(spacing, "x"), header.DataType), nil
}

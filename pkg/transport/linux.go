// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
//go:build linux

package transport

import (
	"nvmesntl/pkg/common"
	"nvmesntl/pkg/logger"
	"nvmesntl/pkg/nvme"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/dswarbrick/smart/ioctl"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	sgIo             = 0x2285
	sgInterfaceId    = 'S'
	sgDxferNone      = -1
	sgDxferToDev     = -2
	sgDxferFromDev   = -3
	sgInfoOkMask     = 0x1
	maxSenseLength   = 252
	nvmeIoctlMagic   = 'N'
	nvmeStatusDnr    = 0x4000
	nvmeStatusMore   = 0x2000
	nvmeStatusMask   = 0x7ff
	millisPerSecond  = 1000
	defaultTimeoutMs = 60 * millisPerSecond
)

// NVME_IOCTL_ID is _IO('N', 0x40), which carries no size or direction.
const nvmeIoctlId = uintptr(nvmeIoctlMagic)<<8 | 0x40

var (
	nvmeIoctlAdminCmd = ioctl.Iowr(nvmeIoctlMagic, 0x41, unsafe.Sizeof(nvmePassthruCommand{}))
	nvmeIoctlIoCmd    = ioctl.Iowr(nvmeIoctlMagic, 0x43, unsafe.Sizeof(nvmePassthruCommand{}))
)

// sgIoHdr is sg_io_hdr_t of <scsi/sg.h>
type sgIoHdr struct {
	interfaceId    int32
	dxferDirection int32
	cmdLen         uint8
	mxSbLen        uint8
	iovecCount     uint16
	dxferLen       uint32
	dxferp         uintptr
	cmdp           uintptr
	sbp            uintptr
	timeout        uint32
	flags          uint32
	packId         int32
	usrPtr         uintptr
	status         uint8
	maskedStatus   uint8
	msgStatus      uint8
	sbLenWr        uint8
	hostStatus     uint16
	driverStatus   uint16
	resid          int32
	duration       uint32
	info           uint32
}

// nvmePassthruCommand is struct nvme_passthru_cmd of <linux/nvme_ioctl.h>
type nvmePassthruCommand struct {
	opcode      uint8
	flags       uint8
	rsvd1       uint16
	nsid        uint32
	cdw2        uint32
	cdw3        uint32
	metadata    uint64
	addr        uint64
	metadataLen uint32
	dataLen     uint32
	cdw10       uint32
	cdw11       uint32
	cdw12       uint32
	cdw13       uint32
	cdw14       uint32
	cdw15       uint32
	timeoutMs   uint32
	result      uint32
} // 72 bytes

type linuxDevice struct {
	mutex       sync.Mutex
	fd          int
	path        string
	kind        DeviceKind
	namespaceId uint32
}

// Open opens a device node and works out what it is. NVMe namespace
// nodes are asked for their namespace id.
func Open(path string, readOnly bool) (Device, error) {
	log := logger.GetLogger()
	kind := ClassifyLink(path)
	if kind == KindUnknown {
		return nil, errors.Wrapf(common.ErrNotSupported, "%s is not a pass-through device", path)
	}
	flags := unix.O_RDWR | unix.O_NONBLOCK | unix.O_CLOEXEC
	if readOnly {
		flags = unix.O_RDONLY | unix.O_NONBLOCK | unix.O_CLOEXEC
	}
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return nil, common.NewOsError("open", path, err)
	}
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		_ = unix.Close(fd)
		return nil, common.NewOsError("fstat", path, err)
	}
	fileType := stat.Mode & unix.S_IFMT
	if fileType != unix.S_IFCHR && fileType != unix.S_IFBLK {
		_ = unix.Close(fd)
		return nil, common.NewOsError("open", path, unix.ENOTBLK)
	}
	device := &linuxDevice{fd: fd, path: path, kind: kind}
	if kind == KindNvmeNamespace {
		namespaceId, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), nvmeIoctlId, 0)
		if errno != 0 {
			_ = unix.Close(fd)
			return nil, common.NewOsError("NVME_IOCTL_ID", path, errno)
		}
		device.namespaceId = uint32(namespaceId)
	}
	log.Debugf("opened %s as %s, namespace %d", path, kind, device.namespaceId)
	return device, nil
}

func (device *linuxDevice) Kind() DeviceKind {
	return device.kind
}

func (device *linuxDevice) NamespaceId() uint32 {
	return device.namespaceId
}

func (device *linuxDevice) Path() string {
	return device.path
}

func (device *linuxDevice) Close() error {
	device.mutex.Lock()
	defer device.mutex.Unlock()
	if device.fd < 0 {
		return nil
	}
	err := unix.Close(device.fd)
	device.fd = -1
	if err != nil {
		return common.NewOsError("close", device.path, err)
	}
	return nil
}

func timeoutMs(timeout time.Duration) uint32 {
	if timeout <= 0 {
		return defaultTimeoutMs
	}
	return uint32(timeout / time.Millisecond)
}

func bufferAddress(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}

func (device *linuxDevice) SubmitSCSI(request *ScsiRequest) (ScsiResult, error) {
	if device.kind.IsNvme() {
		return ScsiResult{}, errors.Wrapf(common.ErrNotSupported, "SG_IO on %s", device.path)
	}
	if len(request.CDB) == 0 || len(request.CDB) > 255 {
		return ScsiResult{}, errors.Wrapf(common.ErrBadParams, "cdb of %d bytes", len(request.CDB))
	}
	header := sgIoHdr{
		interfaceId:    sgInterfaceId,
		dxferDirection: sgDxferNone,
		cmdLen:         uint8(len(request.CDB)),
		cmdp:           bufferAddress(request.CDB),
		timeout:        timeoutMs(request.Timeout),
	}
	sense := request.Sense
	if len(sense) > maxSenseLength {
		sense = sense[:maxSenseLength]
	}
	header.mxSbLen = uint8(len(sense))
	header.sbp = bufferAddress(sense)
	switch {
	case len(request.DataIn) > 0:
		header.dxferDirection = sgDxferFromDev
		header.dxferLen = uint32(len(request.DataIn))
		header.dxferp = bufferAddress(request.DataIn)
	case len(request.DataOut) > 0:
		header.dxferDirection = sgDxferToDev
		header.dxferLen = uint32(len(request.DataOut))
		header.dxferp = bufferAddress(request.DataOut)
	}

	device.mutex.Lock()
	defer device.mutex.Unlock()
	if device.fd < 0 {
		return ScsiResult{}, common.NewOsError("SG_IO", device.path, unix.EBADF)
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(device.fd), sgIo, uintptr(unsafe.Pointer(&header)))
	runtime.KeepAlive(request)
	if errno != 0 {
		if errno == unix.ETIMEDOUT {
			return ScsiResult{}, errors.Wrapf(common.ErrTimeout, "SG_IO on %s", device.path)
		}
		return ScsiResult{}, common.NewOsError("SG_IO", device.path, errno)
	}
	result := ScsiResult{
		Status:       header.status,
		SenseLength:  int(header.sbLenWr),
		Residual:     int(header.resid),
		HostStatus:   header.hostStatus,
		DriverStatus: header.driverStatus,
		Duration:     time.Duration(header.duration) * time.Millisecond,
	}
	if header.info&sgInfoOkMask != 0 {
		logger.GetLogger().Debugf(
			"SG_IO on %s: status 0x%02x host 0x%02x driver 0x%02x",
			device.path,
			header.status,
			header.hostStatus,
			header.driverStatus,
		)
	}
	return result, nil
}

// SubmitNVMe sends one command through the admin or I/O pass-through
// ioctl. The ioctl returns the completion status as a positive value.
func (device *linuxDevice) SubmitNVMe(command *nvme.Command, data []byte, admin bool, timeout time.Duration) (nvme.Completion, error) {
	if !device.kind.IsNvme() {
		return nvme.Completion{}, errors.Wrapf(common.ErrNotSupported, "NVMe pass-through on %s", device.path)
	}
	passthru := nvmePassthruCommand{
		opcode:    command.Opcode,
		flags:     command.Flags,
		nsid:      command.NSID,
		cdw2:      command.CDW2,
		cdw3:      command.CDW3,
		addr:      uint64(bufferAddress(data)),
		dataLen:   uint32(len(data)),
		cdw10:     command.CDW10,
		cdw11:     command.CDW11,
		cdw12:     command.CDW12,
		cdw13:     command.CDW13,
		cdw14:     command.CDW14,
		cdw15:     command.CDW15,
		timeoutMs: timeoutMs(timeout),
	}
	request := nvmeIoctlIoCmd
	if admin {
		request = nvmeIoctlAdminCmd
	}

	device.mutex.Lock()
	defer device.mutex.Unlock()
	if device.fd < 0 {
		return nvme.Completion{}, common.NewOsError("NVMe pass-through", device.path, unix.EBADF)
	}
	status, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(device.fd), request, uintptr(unsafe.Pointer(&passthru)))
	runtime.KeepAlive(data)
	if errno != 0 {
		if errno == unix.ETIMEDOUT || errno == unix.EINTR {
			return nvme.Completion{}, errors.Wrapf(common.ErrTimeout, "%s on %s", nvme.OpcodeString(command.Opcode, admin), device.path)
		}
		return nvme.Completion{}, common.NewOsError(nvme.OpcodeString(command.Opcode, admin), device.path, errno)
	}
	return nvme.NewCompletion(
		passthru.result,
		uint16(status)&nvmeStatusMask,
		uint16(status)&nvmeStatusMore != 0,
		uint16(status)&nvmeStatusDnr != 0,
	), nil
}

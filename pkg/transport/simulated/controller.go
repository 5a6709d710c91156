// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
// Package simulated is an in-process NVMe controller. It answers the
// commands the translation layer issues, over memory or file backed
// namespaces.
package simulated

import (
	"bytes"
	"nvmesntl/pkg/logger"
	"nvmesntl/pkg/nvme"
	"nvmesntl/pkg/wire"
	"sort"
	"sync"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

const (
	DefaultModel      = "NVMESNTL SIMULATED"
	DefaultSerial     = "SIM0000001"
	DefaultFirmware   = "1.0"
	DefaultBlocks     = 2 * 1024 * 1024
	DefaultLbads      = 9
	defaultPciVendor  = 0x1b36
	nvmeVersion14     = 0x00010400
	extendedSelfTest  = 2
	powerStateBitMask = uint32(0x1f)
	supportedPagesSes = byte(0x00)
)

type Config struct {
	Model      string
	Serial     string
	Firmware   string
	Namespaces uint32
	// Blocks is the size of every namespace in logical blocks
	Blocks          uint64
	Lbads           byte
	SubsystemReport byte
	// PowerStates is NPSS, the deepest power state
	PowerStates        byte
	VolatileWriteCache bool
	// BackingFile backs namespace 1; empty keeps every namespace in memory
	BackingFile string
}

func (config Config) withDefaults() Config {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Serial == "" {
		config.Serial = DefaultSerial
	}
	if config.Firmware == "" {
		config.Firmware = DefaultFirmware
	}
	if config.Namespaces == 0 {
		config.Namespaces = 1
	}
	if config.Blocks == 0 {
		config.Blocks = DefaultBlocks
	}
	if config.Lbads == 0 {
		config.Lbads = DefaultLbads
	}
	return config
}

type namespace struct {
	id       uint32
	blocks   uint64
	lbads    byte
	guid     uuid.UUID
	store    BackingStore
	identify nvme.IdentifyNamespace
}

func (ns *namespace) blockSize() uint64 {
	return uint64(1) << ns.lbads
}

// Controller is a simulated NVMe controller. It is safe for concurrent
// use; commands run one at a time.
type Controller struct {
	mutex          sync.Mutex
	identify       nvme.IdentifyController
	namespaces     map[uint32]*namespace
	powerStates    uint32
	powerState     uint32
	hasWriteCache  bool
	writeCache     bool
	lastSelfTest   byte
	sesPages       map[byte][]byte
	submittedCount int
}

func NewController(config Config) (*Controller, error) {
	log := logger.GetLogger()
	config = config.withDefaults()
	controller := &Controller{
		namespaces:    map[uint32]*namespace{},
		powerStates:   uint32(config.PowerStates),
		hasWriteCache: config.VolatileWriteCache,
		writeCache:    config.VolatileWriteCache,
		sesPages:      map[byte][]byte{},
	}
	controller.identify = nvme.ControllerInfo{
		VendorId:           defaultPciVendor,
		SerialNumber:       config.Serial,
		ModelNumber:        config.Model,
		FirmwareRevision:   config.Firmware,
		Version:            nvmeVersion14,
		SubsystemReport:    config.SubsystemReport,
		OptionalAdmin:      0x0010 | 0x0040,
		PowerStates:        config.PowerStates,
		ExtendedSelfTest:   extendedSelfTest,
		MaxNamespaces:      config.Namespaces,
		VolatileWriteCache: config.VolatileWriteCache,
		SubsystemNqn:       "nqn.2014-08.org.nvmexpress:uuid:" + uuid.NewV4().String(),
	}.Marshal()

	for id := uint32(1); id <= config.Namespaces; id++ {
		ns := &namespace{
			id:     id,
			blocks: config.Blocks,
			lbads:  config.Lbads,
			guid:   uuid.NewV4(),
		}
		size := ns.blocks * ns.blockSize()
		if id == 1 && config.BackingFile != "" {
			store, err := NewFileBackingStore(config.BackingFile, size)
			if err != nil {
				_ = controller.Close()
				return nil, err
			}
			ns.store = store
		} else {
			ns.store = NewMemoryBackingStore(size)
		}
		info := nvme.NamespaceInfo{
			Size:            ns.blocks,
			Capacity:        ns.blocks,
			ThinProvisioned: config.BackingFile == "",
			LbaFormats:      []nvme.LbaFormatInfo{{Lbads: ns.lbads}},
		}
		copy(info.Nguid[:], ns.guid.Bytes())
		ns.identify = info.Marshal()
		controller.namespaces[id] = ns
	}
	log.Infof(
		"simulated controller %q with %d namespaces of %d blocks",
		config.Model,
		config.Namespaces,
		config.Blocks,
	)
	return controller, nil
}

// Close releases the backing stores.
func (controller *Controller) Close() error {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	var result error
	for _, ns := range controller.namespaces {
		if err := ns.store.Close(); err != nil && result == nil {
			result = errors.Wrapf(err, "close namespace %d", ns.id)
		}
	}
	return result
}

// SubmittedCount is the number of commands seen so far.
func (controller *Controller) SubmittedCount() int {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	return controller.submittedCount
}

func (controller *Controller) PowerState() uint32 {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	return controller.powerState
}

func (controller *Controller) LastSelfTest() byte {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	return controller.lastSelfTest
}

func completion(result uint32, status uint16) nvme.Completion {
	return nvme.NewCompletion(result, status, false, status != nvme.StatusSuccess)
}

// Submit executes one command. Only a failing backing store yields an
// error; everything else is a completion status.
func (controller *Controller) Submit(command *nvme.Command, data []byte, admin bool) (nvme.Completion, error) {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	controller.submittedCount++
	logger.GetLogger().Debugf("simulated %s %s", nvme.OpcodeString(command.Opcode, admin), command)
	if admin {
		return controller.admin(command, data)
	}
	return controller.io(command, data)
}

func (controller *Controller) admin(command *nvme.Command, data []byte) (nvme.Completion, error) {
	switch command.Opcode {
	case nvme.AdminIdentify:
		return controller.identifyCommand(command, data), nil
	case nvme.AdminGetFeatures:
		return controller.getFeatures(command), nil
	case nvme.AdminSetFeatures:
		return controller.setFeatures(command), nil
	case nvme.AdminDeviceSelfTest:
		return controller.deviceSelfTest(command), nil
	case nvme.AdminMiSend:
		return controller.miSend(command, data), nil
	case nvme.AdminMiReceive:
		return controller.miReceive(command, data), nil
	}
	return completion(0, nvme.StatusInvalidOpcode), nil
}

func (controller *Controller) identifyCommand(command *nvme.Command, data []byte) nvme.Completion {
	if len(data) < nvme.IdentifyDataLength {
		return completion(0, nvme.StatusInvalidField)
	}
	switch byte(command.CDW10) {
	case nvme.CnsController:
		copy(data, controller.identify)
	case nvme.CnsNamespace:
		ns, ok := controller.namespaces[command.NSID]
		if !ok {
			return completion(0, nvme.StatusInvalidNamespace)
		}
		copy(data, ns.identify)
	case nvme.CnsActiveNamespaceList:
		clear(data[:nvme.IdentifyDataLength])
		ids := make([]uint32, 0, len(controller.namespaces))
		for id := range controller.namespaces {
			if id > command.NSID {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for i, id := range ids {
			if i == nvme.IdentifyDataLength/4 {
				break
			}
			wire.PutLe32(id, data, 4*i)
		}
	default:
		return completion(0, nvme.StatusInvalidField)
	}
	return completion(0, nvme.StatusSuccess)
}

func (controller *Controller) getFeatures(command *nvme.Command) nvme.Completion {
	switch byte(command.CDW10) {
	case nvme.FeaturePowerManagement:
		return completion(controller.powerState, nvme.StatusSuccess)
	case nvme.FeatureVolatileWriteCache:
		if !controller.hasWriteCache {
			return completion(0, nvme.StatusInvalidField)
		}
		result := uint32(0)
		if controller.writeCache {
			result = 1
		}
		return completion(result, nvme.StatusSuccess)
	}
	return completion(0, nvme.StatusInvalidField)
}

func (controller *Controller) setFeatures(command *nvme.Command) nvme.Completion {
	switch byte(command.CDW10) {
	case nvme.FeaturePowerManagement:
		powerState := command.CDW11 & powerStateBitMask
		if powerState > controller.powerStates {
			return completion(0, nvme.StatusInvalidField)
		}
		controller.powerState = powerState
		return completion(0, nvme.StatusSuccess)
	case nvme.FeatureVolatileWriteCache:
		if !controller.hasWriteCache {
			return completion(0, nvme.StatusInvalidField)
		}
		controller.writeCache = command.CDW11&0x01 != 0
		if !controller.writeCache {
			if err := controller.flushAll(); err != nil {
				return completion(0, nvme.StatusInternalError)
			}
		}
		return completion(0, nvme.StatusSuccess)
	}
	return completion(0, nvme.StatusFeatureNotChangeable)
}

func (controller *Controller) deviceSelfTest(command *nvme.Command) nvme.Completion {
	code := byte(command.CDW10 & 0x0f)
	switch code {
	case nvme.SelfTestShort, nvme.SelfTestExtended, nvme.SelfTestAbort:
		controller.lastSelfTest = code
		return completion(0, nvme.StatusSuccess)
	}
	return completion(0, nvme.StatusInvalidField)
}

// miSend stores an SES diagnostic page sent through NVMe-MI.
func (controller *Controller) miSend(command *nvme.Command, data []byte) nvme.Completion {
	if command.CDW10 != nvme.MiMessageCommandCdw10 || command.CDW11&0xff != nvme.MiSesSend || len(data) < 4 {
		return completion(0, nvme.StatusInvalidField)
	}
	pageCode := byte(command.CDW11 >> 8)
	if pageCode == supportedPagesSes {
		return completion(0, nvme.StatusInvalidField)
	}
	controller.sesPages[pageCode] = bytes.Clone(data)
	return completion(0, nvme.StatusSuccess)
}

// miReceive returns a stored SES page, or page 0 listing them.
func (controller *Controller) miReceive(command *nvme.Command, data []byte) nvme.Completion {
	if command.CDW10 != nvme.MiMessageCommandCdw10 || command.CDW11&0xff != nvme.MiSesReceive {
		return completion(0, nvme.StatusInvalidField)
	}
	pageCode := byte(command.CDW11 >> 8)
	var page []byte
	if pageCode == supportedPagesSes {
		codes := []byte{supportedPagesSes}
		for code := range controller.sesPages {
			codes = append(codes, code)
		}
		sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
		page = make([]byte, 4, 4+len(codes))
		wire.PutBe16(uint16(len(codes)), page, 2)
		page = append(page, codes...)
	} else {
		stored, ok := controller.sesPages[pageCode]
		if !ok {
			return completion(0, nvme.StatusInvalidField)
		}
		page = stored
	}
	clear(data)
	copy(data, page)
	return completion(0, nvme.StatusSuccess)
}

func (controller *Controller) flushAll() error {
	for _, ns := range controller.namespaces {
		if err := ns.store.DataSync(); err != nil {
			return err
		}
	}
	return nil
}

func (controller *Controller) io(command *nvme.Command, data []byte) (nvme.Completion, error) {
	if command.Opcode == nvme.NvmFlush && command.NSID == nvme.BroadcastNamespace {
		if err := controller.flushAll(); err != nil {
			return nvme.Completion{}, err
		}
		return completion(0, nvme.StatusSuccess), nil
	}
	ns, ok := controller.namespaces[command.NSID]
	if !ok {
		return completion(0, nvme.StatusInvalidNamespace), nil
	}
	if command.Opcode == nvme.NvmFlush {
		if err := ns.store.DataSync(); err != nil {
			return nvme.Completion{}, err
		}
		return completion(0, nvme.StatusSuccess), nil
	}

	lba := command.StartingLba()
	blocks := uint64(command.NumberOfBlocks())
	if lba+blocks < lba || lba+blocks > ns.blocks {
		return completion(0, nvme.StatusLbaOutOfRange), nil
	}
	offset := lba * ns.blockSize()
	length := blocks * ns.blockSize()
	switch command.Opcode {
	case nvme.NvmRead, nvme.NvmWrite, nvme.NvmCompare:
		if uint64(len(data)) < length {
			return completion(0, nvme.StatusDataTransferError), nil
		}
	}

	switch command.Opcode {
	case nvme.NvmRead:
		stored, err := ns.store.Read(offset, length)
		if err != nil {
			return nvme.Completion{}, err
		}
		copy(data, stored)
	case nvme.NvmWrite:
		if err := ns.store.Write(data[:length], offset); err != nil {
			return nvme.Completion{}, err
		}
		if command.CDW12&nvme.Cdw12ForceUnitAccess != 0 || !controller.writeCache {
			if err := ns.store.DataSync(); err != nil {
				return nvme.Completion{}, err
			}
		}
	case nvme.NvmCompare:
		stored, err := ns.store.Read(offset, length)
		if err != nil {
			return nvme.Completion{}, err
		}
		if !bytes.Equal(stored, data[:length]) {
			return completion(0, nvme.StatusCompareFailure), nil
		}
	case nvme.NvmVerify:
	case nvme.NvmWriteZeroes:
		if err := ns.store.Unmap(offset, length); err != nil {
			return nvme.Completion{}, err
		}
	default:
		return completion(0, nvme.StatusInvalidOpcode), nil
	}
	return completion(0, nvme.StatusSuccess), nil
}

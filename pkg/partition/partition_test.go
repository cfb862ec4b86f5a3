/*
 * Copyright 2021-2022 by Nedim Sabic Sabic
 * https://www.fibratus.io
 * All Rights Reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package partition

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/rabbitstack/kguard/pkg/channel"
	"github.com/rabbitstack/kguard/pkg/dispatch"
	"github.com/rabbitstack/kguard/pkg/driver"
	"github.com/rabbitstack/kguard/pkg/driver/drivertest"
	kerrors "github.com/rabbitstack/kguard/pkg/errors"
	"github.com/rabbitstack/kguard/pkg/policy"
	"github.com/rabbitstack/kguard/pkg/sys/ioctl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const timeout = 2 * time.Second

func newPartition(t *testing.T, o ...Opt) (*drivertest.Driver, *Partition) {
	d := drivertest.New(drivertest.WithBuckets(2))
	p, err := New(d, o...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return d, p
}

func TestPartitionLifecycle(t *testing.T) {
	d, p := newPartition(t)
	assert.True(t, p.IsRunning())
	assert.Equal(t, "running", p.State())
	assert.Equal(t, uint32(512), p.Channel().Size)
	assert.Equal(t, 2, p.Engine().Buckets())
	assert.Equal(t, 2, p.Engine().Alive())
	assert.NotEmpty(t, p.Session().String())

	require.NoError(t, p.Close())
	assert.Equal(t, 0, p.Engine().Alive())
	assert.Equal(t, "closed", p.State())
	assert.False(t, p.IsRunning())

	require.NoError(t, p.Close())
	assert.Equal(t, 1, d.Closes())
	assert.Equal(t, 1, d.Count(ioctl.PartitionDelete))

	_, err := p.GetOption(OptionVersion)
	assert.ErrorIs(t, err, kerrors.ErrPartitionClosed)
	_, err = NewGuard(p, nil)
	assert.ErrorIs(t, err, kerrors.ErrPartitionClosed)
}

func TestPartitionCreateFailure(t *testing.T) {
	d := drivertest.New()
	d.Fail(ioctl.PartitionCreate, kerrors.ErrnoNotFound)
	_, err := New(d)
	require.Error(t, err)
	assert.True(t, kerrors.IsIoCall(err))
}

func TestPartitionCloseWhenDeleteFails(t *testing.T) {
	d, p := newPartition(t)
	d.Fail(ioctl.PartitionDelete, kerrors.ErrnoNotFound)

	done := make(chan error, 1)
	go func() { done <- p.Close() }()

	// workers keep serving until the kernel posts the terminate message
	for i := 0; i < 2; i++ {
		require.NoError(t, d.Terminate(p.ID(), i, timeout))
	}
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(timeout):
		t.Fatal("partition close didn't return")
	}
	assert.Equal(t, 1, d.Closes())
}

func TestPartitionOptions(t *testing.T) {
	_, p := newPartition(t, WithOption(OptionInterceptTimeout, 100))

	v, err := p.GetOption(OptionInterceptTimeout)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), v)

	require.NoError(t, p.SetInterceptTimeout(2*time.Second))
	v, err = p.GetOption(OptionInterceptTimeout)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), v)

	require.NoError(t, p.SetDefaultAction(policy.Inspect))
	v, err = p.GetOption(OptionDefaultAction)
	require.NoError(t, err)
	assert.Equal(t, uint64(policy.Inspect|policy.Notify), v)

	err = p.SetOption(OptionVersion, 1)
	require.Error(t, err)
	assert.IsType(t, &kerrors.UnknownError{}, err)
	assert.False(t, kerrors.IsNotExists(err))
}

func TestPartitionGetOptionNotExists(t *testing.T) {
	d, p := newPartition(t)
	// the partition vanishes kernel-side
	require.NoError(t, driver.Request(d, ioctl.PartitionDelete, nil, p.ID()))

	_, err := p.GetOption(OptionVersion)
	require.Error(t, err)
	assert.True(t, kerrors.IsNotExists(err))
	assert.EqualError(t, err, "object 1 doesn't exist")
}

func TestDriverVersion(t *testing.T) {
	d := drivertest.New(drivertest.WithVersion(2, 5, 1))
	p, err := New(d)
	require.NoError(t, err)
	defer p.Close()

	v, err := p.DriverVersion()
	require.NoError(t, err)
	assert.Equal(t, "2.5.1", v.String())

	require.NoError(t, p.CheckDriverVersion(">= 2.0, < 3.0"))
	require.Error(t, p.CheckDriverVersion("~> 1.2"))
	require.Error(t, p.CheckDriverVersion("not a constraint"))
}

func TestGuard(t *testing.T) {
	d, p := newPartition(t)
	g, err := NewGuard(p, nil)
	require.NoError(t, err)

	kg, ok := d.Guard(g.ID())
	require.True(t, ok)
	assert.Zero(t, kg.Filter)

	require.NoError(t, g.Start())
	assert.True(t, g.IsActive())
	kg, _ = d.Guard(g.ID())
	assert.True(t, kg.Active)

	g.SetCallback(func(channel.Intercept) dispatch.Response { return dispatch.Response{Action: policy.Block} })
	g.SetCallback(func(channel.Intercept) dispatch.Response { return dispatch.Response{Action: policy.Stealth} })
	rec, err := d.Intercept(p.ID(), 0, channel.InterceptRecord{Guard: g.ID()}, timeout)
	require.NoError(t, err)
	assert.Equal(t, policy.Stealth, rec.Action)

	require.NoError(t, g.Stop())
	assert.False(t, g.IsActive())

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
	assert.Equal(t, 1, d.Count(ioctl.GuardUnregister))
	_, ok = d.Guard(g.ID())
	assert.False(t, ok)

	// the callback is gone with the guard
	rec, err = d.Intercept(p.ID(), 1, channel.InterceptRecord{Guard: g.ID()}, timeout)
	require.NoError(t, err)
	assert.Equal(t, policy.Continue, rec.Action)

	assert.True(t, kerrors.IsNotExists(g.Start()))
}

func TestRegion(t *testing.T) {
	d, p := newPartition(t)
	g, err := NewGuard(p, nil)
	require.NoError(t, err)

	_, err = NewRegion(p, 0x2000, 0x1000, 0, policy.Read)
	require.Error(t, err)
	_, err = NewRegion(p, 0x1000, 0x1000, 0, policy.Read)
	require.Error(t, err)
	_, err = NewRegion(p, 0x1000, 0x2000, 0, 0)
	require.Error(t, err)
	assert.Equal(t, 0, d.Count(ioctl.RegionCreate))

	r, err := NewRegion(p, 0xfffff80000001000, 0xfffff80000002000, 0, policy.Write)
	require.NoError(t, err)
	assert.Equal(t, policy.Inspect|policy.Notify, r.Action())

	kr, ok := d.Region(r.ID())
	require.True(t, ok)
	assert.Equal(t, uint32(policy.Inspect|policy.Notify), kr.Action)
	assert.Equal(t, uint32(policy.Write), kr.Access)

	require.NoError(t, g.Attach(r))
	kg, _ := d.Guard(g.ID())
	assert.Equal(t, []uint64{r.ID()}, kg.Regions)

	require.NoError(t, r.Enable())
	info, err := r.Info()
	require.NoError(t, err)
	assert.Equal(t, RegionInfo{
		ID:     r.ID(),
		Base:   0xfffff80000001000,
		Limit:  0xfffff80000002000,
		Access: policy.Write,
		Action: policy.Inspect | policy.Notify,
		State:  RegionEnabled,
	}, info)
	assert.Equal(t, uint32(0x1000), info.Span().Size)

	require.NoError(t, g.Detach(r))
	err = g.Detach(r)
	require.Error(t, err)
	assert.True(t, kerrors.IsNotExists(err))

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	_, err = r.Info()
	assert.True(t, kerrors.IsNotExists(err))
}

func TestRegionExplicitAction(t *testing.T) {
	d, p := newPartition(t)
	r, err := NewRegion(p, 0x1000, 0x2000, policy.Inspect|policy.Block, policy.Read|policy.Execute)
	require.NoError(t, err)
	kr, _ := d.Region(r.ID())
	assert.Equal(t, uint32(policy.Inspect|policy.Notify|policy.Block), kr.Action)
}

func TestPatch(t *testing.T) {
	d, p := newPartition(t)
	g, err := NewGuard(p, nil)
	require.NoError(t, err)

	_, err = NewPatch(p, 0x1000, nil, 0)
	require.Error(t, err)

	code := []byte{0xc3, 0x90, 0x90}
	pt, err := NewPatch(p, 0xfffff80000003000, code, policy.Block)
	require.NoError(t, err)
	assert.Equal(t, 3, pt.Size())

	kp, ok := d.Patch(pt.ID())
	require.True(t, ok)
	assert.Equal(t, code, kp.Bytes)
	assert.Equal(t, uint64(0xfffff80000003000), kp.Address)

	require.NoError(t, g.Attach(pt))
	kg, _ := d.Guard(g.ID())
	assert.Equal(t, []uint64{pt.ID()}, kg.Patches)

	require.NoError(t, pt.Enable())
	info, err := pt.Info()
	require.NoError(t, err)
	assert.True(t, info.Enabled())
	assert.Equal(t, uint32(3), info.Length)
	assert.Equal(t, policy.Block, info.Action)

	require.NoError(t, pt.Disable())
	info, err = pt.Info()
	require.NoError(t, err)
	assert.False(t, info.Enabled())

	require.NoError(t, g.Detach(pt))
	require.NoError(t, pt.Close())
	assert.True(t, kerrors.IsNotExists(pt.Enable()))
}

func TestEnumerate(t *testing.T) {
	_, p := newPartition(t)

	ids, err := EnumRegions(p)
	require.NoError(t, err)
	assert.Empty(t, ids)

	var expected []uint64
	for i := uint64(0); i < 70; i++ {
		r, err := NewRegion(p, 0x1000*(i+1), 0x1000*(i+2), policy.Notify, policy.Read)
		require.NoError(t, err)
		expected = append(expected, r.ID())
	}
	ids, err = EnumRegions(p)
	require.NoError(t, err)
	assert.Equal(t, expected, ids)

	pt, err := NewPatch(p, 0x1000, []byte{0x90}, 0)
	require.NoError(t, err)
	ids, err = EnumPatches(p)
	require.NoError(t, err)
	assert.Equal(t, []uint64{pt.ID()}, ids)
}

func TestEnumerateTooManyObjects(t *testing.T) {
	b := make([]byte, 8+64*8)
	binary.LittleEndian.PutUint64(b, 1<<40)
	io := new(driver.IOMock)
	io.On("Call", ioctl.RegionEnumerate, []byte(nil), 8+64*8).Return(b, nil)

	ids, err := enumerate(io, ioctl.RegionEnumerate)
	require.ErrorIs(t, err, kerrors.ErrTooManyObjects)
	assert.Nil(t, ids)
	io.AssertNumberOfCalls(t, "Call", 1)
}

func TestSelfTest(t *testing.T) {
	d := drivertest.New()
	require.NoError(t, SelfTest(d, ScenarioPing))
	require.NoError(t, SelfTest(d, ScenarioFilter))
	require.Error(t, SelfTest(d, Scenario(42)))
}

//go:build linux && cgo && cuda

package device

/*
#cgo LDFLAGS: -L/usr/local/cuda/lib64 -lcudart -lcublas -lm
#cgo CFLAGS: -I/usr/local/cuda/include

#include <cuda_runtime.h>
#include <cublas_v2.h>
#include <stdlib.h>
#include <string.h>

int cuda_device_count(void) {
    int deviceCount = 0;
    if (cudaGetDeviceCount(&deviceCount) != cudaSuccess) {
        return 0;
    }
    return deviceCount;
}

typedef struct {
    char name[256];
    size_t totalGlobalMem;
    int major;
    int minor;
    int multiProcessorCount;
} CUDADeviceProps;

int cuda_get_device_props(int device, CUDADeviceProps* props) {
    struct cudaDeviceProp deviceProp;
    if (cudaGetDeviceProperties(&deviceProp, device) != cudaSuccess) {
        return 0;
    }

    strncpy(props->name, deviceProp.name, 255);
    props->name[255] = '\0';
    props->totalGlobalMem = deviceProp.totalGlobalMem;
    props->major = deviceProp.major;
    props->minor = deviceProp.minor;
    props->multiProcessorCount = deviceProp.multiProcessorCount;
    return 1;
}

// One cuBLAS handle and one set of device buffers per accelerator.
typedef struct {
    int device;
    cublasHandle_t handle;
    void* d_a;
    void* d_b;
    void* d_c;
    size_t allocated_size;
} CUBLASContext;

CUBLASContext* cublas_init(int device) {
    if (cudaSetDevice(device) != cudaSuccess) return NULL;

    CUBLASContext* ctx = (CUBLASContext*)malloc(sizeof(CUBLASContext));
    if (ctx == NULL) return NULL;

    ctx->device = device;
    ctx->d_a = NULL;
    ctx->d_b = NULL;
    ctx->d_c = NULL;
    ctx->allocated_size = 0;

    if (cublasCreate(&ctx->handle) != CUBLAS_STATUS_SUCCESS) {
        free(ctx);
        return NULL;
    }
    return ctx;
}

void cublas_cleanup(CUBLASContext* ctx) {
    if (ctx == NULL) return;

    cudaSetDevice(ctx->device);
    if (ctx->d_a) cudaFree(ctx->d_a);
    if (ctx->d_b) cudaFree(ctx->d_b);
    if (ctx->d_c) cudaFree(ctx->d_c);

    cublasDestroy(ctx->handle);
    free(ctx);
}

// C = A * B with A m×k, B k×n, C m×n, all row-major.
int cublas_dgemm(CUBLASContext* ctx,
                 double* h_a, double* h_b, double* h_c,
                 int m, int n, int k) {
    if (ctx == NULL) return 0;
    if (cudaSetDevice(ctx->device) != cudaSuccess) return 0;

    size_t size_a = (size_t)m * k * sizeof(double);
    size_t size_b = (size_t)k * n * sizeof(double);
    size_t size_c = (size_t)m * n * sizeof(double);
    size_t total_size = size_a + size_b + size_c;

    if (total_size > ctx->allocated_size) {
        if (ctx->d_a) cudaFree(ctx->d_a);
        if (ctx->d_b) cudaFree(ctx->d_b);
        if (ctx->d_c) cudaFree(ctx->d_c);
        ctx->d_a = ctx->d_b = ctx->d_c = NULL;
        ctx->allocated_size = 0;

        if (cudaMalloc(&ctx->d_a, size_a) != cudaSuccess) return 0;
        if (cudaMalloc(&ctx->d_b, size_b) != cudaSuccess) return 0;
        if (cudaMalloc(&ctx->d_c, size_c) != cudaSuccess) return 0;

        ctx->allocated_size = total_size;
    }

    if (cudaMemcpy(ctx->d_a, h_a, size_a, cudaMemcpyHostToDevice) != cudaSuccess) return 0;
    if (cudaMemcpy(ctx->d_b, h_b, size_b, cudaMemcpyHostToDevice) != cudaSuccess) return 0;

    // cuBLAS is column-major; computing C^T = B^T * A^T yields row-major C.
    double alpha = 1.0;
    double beta = 0.0;

    cublasStatus_t status = cublasDgemm(
        ctx->handle,
        CUBLAS_OP_N, CUBLAS_OP_N,
        n, m, k,
        &alpha,
        (double*)ctx->d_b, n,
        (double*)ctx->d_a, k,
        &beta,
        (double*)ctx->d_c, n
    );
    if (status != CUBLAS_STATUS_SUCCESS) return 0;

    if (cudaMemcpy(h_c, ctx->d_c, size_c, cudaMemcpyDeviceToHost) != cudaSuccess) return 0;

    cudaDeviceSynchronize();
    return 1;
}
*/
import "C"

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/scttfrdmn/devblock/internal/tensor"
)

// Properties holds accelerator properties reported by the CUDA runtime.
type Properties struct {
	Name                string
	TotalGlobalMem      uint64
	ComputeCapability   string
	MultiProcessorCount int
}

// CUDABackend runs matmul on one NVIDIA accelerator through cuBLAS.
type CUDABackend struct {
	index int
	ctx   *C.CUBLASContext
	props Properties
}

type cudaSystem struct{}

// System returns the accelerators visible through the CUDA runtime.
func System() Accelerators {
	return cudaSystem{}
}

func (cudaSystem) Count() int {
	return int(C.cuda_device_count())
}

func (s cudaSystem) Open(index int) (Backend, error) {
	return NewCUDABackend(index)
}

// NewCUDABackend binds a cuBLAS context to the accelerator at index.
func NewCUDABackend(index int) (*CUDABackend, error) {
	count := int(C.cuda_device_count())
	if count == 0 {
		return nil, ErrNoAccelerator
	}
	if index < 0 || index >= count {
		return nil, errors.Wrapf(ErrInvalidOrdinal, "cuda:%d (%d visible)", index, count)
	}

	var cProps C.CUDADeviceProps
	if C.cuda_get_device_props(C.int(index), &cProps) == 0 {
		return nil, errors.Errorf("cuda:%d: failed to get device properties", index)
	}

	// cudaSetDevice is per OS thread.
	runtime.LockOSThread()
	ctx := C.cublas_init(C.int(index))
	runtime.UnlockOSThread()
	if ctx == nil {
		return nil, errors.Errorf("cuda:%d: failed to initialize cuBLAS", index)
	}

	return &CUDABackend{
		index: index,
		ctx:   ctx,
		props: Properties{
			Name:                C.GoString(&cProps.name[0]),
			TotalGlobalMem:      uint64(cProps.totalGlobalMem),
			ComputeCapability:   fmt.Sprintf("%d.%d", cProps.major, cProps.minor),
			MultiProcessorCount: int(cProps.multiProcessorCount),
		},
	}, nil
}

// Device returns cuda:<index>.
func (c *CUDABackend) Device() Device {
	return Device{Kind: CUDA, Index: c.index}
}

// Name returns the GPU name with compute capability and SM count.
func (c *CUDABackend) Name() string {
	return fmt.Sprintf("%s (CUDA %s, %d SMs, %.1f GB)",
		c.props.Name, c.props.ComputeCapability, c.props.MultiProcessorCount,
		float64(c.props.TotalGlobalMem)/(1024*1024*1024))
}

// MatMul performs a @ b with cuBLAS DGEMM.
func (c *CUDABackend) MatMul(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if c.ctx == nil {
		return nil, errors.Errorf("cuda:%d: backend closed", c.index)
	}
	if a.Dims() != 2 || b.Dims() != 2 {
		return nil, errors.New("cuda matmul requires 2D tensors")
	}

	as, bs := a.Shape(), b.Shape()
	m, k, n := as[0], as[1], bs[1]
	if k != bs[0] {
		return nil, errors.Errorf("cuda matmul: incompatible dimensions %v @ %v", as, bs)
	}

	result := tensor.New(m, n)

	runtime.LockOSThread()
	ok := C.cublas_dgemm(
		c.ctx,
		(*C.double)(unsafe.Pointer(&a.Raw()[0])),
		(*C.double)(unsafe.Pointer(&b.Raw()[0])),
		(*C.double)(unsafe.Pointer(&result.Raw()[0])),
		C.int(m),
		C.int(n),
		C.int(k),
	)
	runtime.UnlockOSThread()

	if ok == 0 {
		return nil, errors.Errorf("cuda:%d: cuBLAS DGEMM failed", c.index)
	}
	return result, nil
}

// Close releases the cuBLAS handle and device buffers.
func (c *CUDABackend) Close() error {
	if c.ctx != nil {
		C.cublas_cleanup(c.ctx)
		c.ctx = nil
	}
	return nil
}

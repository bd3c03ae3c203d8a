//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

var shaderSources = []string{
	"shaders/scene3d.vert",
	"shaders/scene3d.frag",
	"shaders/scene2d.vert",
	"shaders/scene2d.frag",
}

// Compiles the GLSL sources to SPIR-V next to them.
func (Build) Shaders() error {
	for _, src := range shaderSources {
		if _, err := executeCmd("glslc", withArgs(src, "-o", src+".spv"), withStream()); err != nil {
			return err
		}
	}
	return nil
}

// Builds the testbed binary.
func (Build) Testbed() error {
	mg.Deps(Build.Shaders)
	if _, err := executeCmd("go", withArgs("build", "-o", "vetro", "."), withStream()); err != nil {
		return err
	}
	return nil
}
